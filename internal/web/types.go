package web

// DisplayWinner is one winner line on the big screen.
type DisplayWinner struct {
	Name       string
	Department string
}

// DisplayState is the server rendered first frame of the lottery display.
// Later frames come over the session websocket.
type DisplayState struct {
	SessionID  uint
	Status     string
	RoundTitle string
	RoundCount int
	PoolSize   int
	Winners    []DisplayWinner
}
