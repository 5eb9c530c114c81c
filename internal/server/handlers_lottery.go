package server

import (
	"context"
	"net/http"

	"meeting-live/internal/directory"
	"meeting-live/internal/lottery"

	"github.com/gin-gonic/gin"
)

type roundRequest struct {
	Title       string `json:"title" binding:"required,title"`
	Count       int    `json:"count" binding:"required,min=1,max=1000"`
	AllowRepeat bool   `json:"allowRepeat"`
}

type prepareRequest struct {
	RoundID     uint   `json:"roundId"`
	Title       string `json:"title" binding:"omitempty,title"`
	Count       int    `json:"count" binding:"omitempty,min=1,max=1000"`
	AllowRepeat bool   `json:"allowRepeat"`
}

type joinRequest struct {
	ParticipantID string `json:"participantId" binding:"required,participant"`
	Name          string `json:"name" binding:"omitempty,max=64"`
	Department    string `json:"department" binding:"omitempty,max=64"`
	AvatarURL     string `json:"avatarUrl" binding:"omitempty,max=255"`
}

type leaveRequest struct {
	ParticipantID string `json:"participantId" binding:"required,participant"`
}

type lotteryStateQuery struct {
	ParticipantID string `form:"participantId"`
}

var roundMessages = bindMessages{
	"Title": {"required": "title is required", "title": "title must be 1-200 printable characters"},
	"Count": {"required": "count is required", "min": "count must be at least 1", "max": "count must be 1000 or fewer"},
}

var participantMessages = bindMessages{
	"ParticipantID": {"required": "participantId is required", "participant": "participantId is invalid"},
	"Name":          {"max": "name must be 64 characters or fewer"},
	"Department":    {"max": "department must be 64 characters or fewer"},
	"AvatarURL":     {"max": "avatarUrl must be 255 characters or fewer"},
}

func (r joinRequest) profile() directory.Profile {
	return directory.Profile{
		ID:         r.ParticipantID,
		Name:       normalizeText(r.Name),
		Department: normalizeText(r.Department),
		AvatarURL:  r.AvatarURL,
	}
}

func (s *Server) handleCreateRound(c *gin.Context) {
	var uri sessionURI
	if !bindURI(c, &uri) {
		return
	}
	var req roundRequest
	if !bindJSON(c, &req, roundMessages, "invalid round") {
		return
	}
	round, err := s.lottery.CreateRound(c.Request.Context(), uri.SessionID, lottery.RoundConfig{
		Title:       normalizeText(req.Title),
		Count:       req.Count,
		AllowRepeat: req.AllowRepeat,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, round)
}

func (s *Server) handleLotteryHistory(c *gin.Context) {
	var uri sessionURI
	if !bindURI(c, &uri) {
		return
	}
	rounds, err := s.lottery.History(c.Request.Context(), uri.SessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rounds": rounds})
}

func (s *Server) handleDeleteRound(c *gin.Context) {
	var uri roundURI
	if !bindURI(c, &uri) {
		return
	}
	if err := s.lottery.DeleteRound(c.Request.Context(), uri.SessionID, uri.RoundID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handlePrepare(c *gin.Context) {
	var uri sessionURI
	if !bindURI(c, &uri) {
		return
	}
	var req prepareRequest
	if !bindJSON(c, &req, roundMessages, "invalid round") {
		return
	}
	ref := lottery.RoundRef{RoundID: req.RoundID}
	if req.RoundID == 0 {
		ref.Config = &lottery.RoundConfig{
			Title:       normalizeText(req.Title),
			Count:       req.Count,
			AllowRepeat: req.AllowRepeat,
		}
	}
	state, err := s.lottery.Prepare(c.Request.Context(), uri.SessionID, ref)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleJoin(c *gin.Context) {
	if !s.enforceRateLimit(c, "join") {
		return
	}
	var uri sessionURI
	if !bindURI(c, &uri) {
		return
	}
	var req joinRequest
	if !bindJSON(c, &req, participantMessages, "invalid participant") {
		return
	}
	state, err := s.lottery.Join(c.Request.Context(), uri.SessionID, req.profile())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleLeave(c *gin.Context) {
	var uri sessionURI
	if !bindURI(c, &uri) {
		return
	}
	var req leaveRequest
	if !bindJSON(c, &req, participantMessages, "invalid participant") {
		return
	}
	state, err := s.lottery.Leave(c.Request.Context(), uri.SessionID, req.ParticipantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleStart(c *gin.Context) {
	s.lotteryTransition(c, s.lottery.Start)
}

func (s *Server) handleStop(c *gin.Context) {
	s.lotteryTransition(c, s.lottery.Stop)
}

func (s *Server) handleReset(c *gin.Context) {
	s.lotteryTransition(c, s.lottery.Reset)
}

func (s *Server) lotteryTransition(c *gin.Context, op func(ctx context.Context, sessionID uint) (lottery.State, error)) {
	var uri sessionURI
	if !bindURI(c, &uri) {
		return
	}
	state, err := op(c.Request.Context(), uri.SessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleLotteryState(c *gin.Context) {
	var uri sessionURI
	if !bindURI(c, &uri) {
		return
	}
	var query lotteryStateQuery
	if !bindQuery(c, &query) {
		return
	}
	if !s.requireSession(c, uri.SessionID) {
		return
	}
	state, err := s.lottery.State(c.Request.Context(), uri.SessionID, query.ParticipantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}
