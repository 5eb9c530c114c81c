package server

import (
	"net/http"

	"meeting-live/internal/poll"

	"github.com/gin-gonic/gin"
)

type createPollRequest struct {
	Title         string   `json:"title" binding:"required,title"`
	Description   string   `json:"description" binding:"max=1000"`
	Options       []string `json:"options" binding:"required,min=2,max=20,dive,required,max=200"`
	MultiSelect   bool     `json:"multiSelect"`
	MaxSelections int      `json:"maxSelections" binding:"min=0"`
	Anonymous     bool     `json:"anonymous"`
	Duration      int      `json:"duration" binding:"required,min=1"`
}

type submitRequest struct {
	VoterID   string `json:"voterId" binding:"required,participant"`
	VoterName string `json:"voterName" binding:"omitempty,max=64"`
	OptionIDs []uint `json:"optionIds"`
}

type voterQuery struct {
	VoterID string `form:"voterId"`
}

type voterURI struct {
	VoterID string `uri:"voterID" binding:"required,participant"`
}

type pageQuery struct {
	Offset int `form:"offset" binding:"omitempty,min=0"`
	Limit  int `form:"limit" binding:"omitempty,min=1,max=100"`
}

var pollMessages = bindMessages{
	"Title":         {"required": "title is required", "title": "title must be 1-200 printable characters"},
	"Description":   {"max": "description must be 1000 characters or fewer"},
	"Options":       {"required": "options are required", "min": "a poll needs at least 2 options", "max": "a poll allows at most 20 options"},
	"MaxSelections": {"min": "maxSelections cannot be negative"},
	"Duration":      {"required": "duration is required", "min": "duration must be at least 1 second"},
}

var submitMessages = bindMessages{
	"VoterID": {"required": "voterId is required", "participant": "voterId is invalid"},
}

func (s *Server) handleCreatePoll(c *gin.Context) {
	var uri sessionURI
	if !bindURI(c, &uri) {
		return
	}
	var req createPollRequest
	if !bindJSON(c, &req, pollMessages, "invalid poll") {
		return
	}
	created, err := s.polls.Create(c.Request.Context(), uri.SessionID, poll.CreateInput{
		Title:           normalizeText(req.Title),
		Description:     req.Description,
		Options:         req.Options,
		MultiSelect:     req.MultiSelect,
		MaxSelections:   req.MaxSelections,
		Anonymous:       req.Anonymous,
		DurationSeconds: req.Duration,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleListPolls(c *gin.Context) {
	var uri sessionURI
	if !bindURI(c, &uri) {
		return
	}
	var query voterQuery
	if !bindQuery(c, &query) {
		return
	}
	polls, err := s.polls.ListBySession(c.Request.Context(), uri.SessionID, query.VoterID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"polls": polls})
}

func (s *Server) handleVoterHistory(c *gin.Context) {
	var uri voterURI
	if !bindURI(c, &uri) {
		return
	}
	var query pageQuery
	if !bindQuery(c, &query) {
		return
	}
	page, err := s.polls.VoterHistory(c.Request.Context(), uri.VoterID, query.Offset, query.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) handleActivePoll(c *gin.Context) {
	var uri sessionURI
	if !bindURI(c, &uri) {
		return
	}
	var query voterQuery
	if !bindQuery(c, &query) {
		return
	}
	state, err := s.polls.ActiveForSession(c.Request.Context(), uri.SessionID, query.VoterID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": state})
}

func (s *Server) handlePollState(c *gin.Context) {
	var uri pollURI
	if !bindURI(c, &uri) {
		return
	}
	var query voterQuery
	if !bindQuery(c, &query) {
		return
	}
	state, err := s.polls.State(c.Request.Context(), uri.PollID, query.VoterID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handlePollResults(c *gin.Context) {
	var uri pollURI
	if !bindURI(c, &uri) {
		return
	}
	results, err := s.polls.Results(c.Request.Context(), uri.PollID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) handleStartPoll(c *gin.Context) {
	var uri pollURI
	if !bindURI(c, &uri) {
		return
	}
	started, err := s.polls.Start(c.Request.Context(), uri.PollID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, started)
}

func (s *Server) handleSubmit(c *gin.Context) {
	if !s.enforceRateLimit(c, "submit") {
		return
	}
	var uri pollURI
	if !bindURI(c, &uri) {
		return
	}
	var req submitRequest
	if !bindJSON(c, &req, submitMessages, "invalid submission") {
		return
	}
	results, err := s.polls.Submit(c.Request.Context(), uri.PollID, poll.SubmitInput{
		VoterID:   req.VoterID,
		VoterName: normalizeText(req.VoterName),
		OptionIDs: req.OptionIDs,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) handleClosePoll(c *gin.Context) {
	var uri pollURI
	if !bindURI(c, &uri) {
		return
	}
	results, closed, err := s.polls.Close(c.Request.Context(), uri.PollID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": closed, "results": results})
}
