package server

import (
	"meeting-live/internal/lottery"
	"meeting-live/internal/web"

	"github.com/a-h/templ"
	"github.com/gin-gonic/gin"
)

func displayState(state lottery.State) web.DisplayState {
	out := web.DisplayState{
		SessionID: state.SessionID,
		Status:    string(state.Status),
		PoolSize:  state.PoolSize,
	}
	if state.Round != nil {
		out.RoundTitle = state.Round.Title
		out.RoundCount = state.Round.Count
	}
	if state.LastResult != nil {
		for _, winner := range state.LastResult.Winners {
			out.Winners = append(out.Winners, web.DisplayWinner{Name: winner.Name, Department: winner.Department})
		}
	}
	return out
}

func (s *Server) handleDisplayView(c *gin.Context) {
	var uri sessionURI
	if !bindURI(c, &uri) {
		return
	}
	if !s.requireSession(c, uri.SessionID) {
		return
	}
	state, err := s.lottery.State(c.Request.Context(), uri.SessionID, "")
	if err != nil {
		writeError(c, err)
		return
	}
	templ.Handler(web.LotteryDisplay(displayState(state))).ServeHTTP(c.Writer, c.Request)
}
