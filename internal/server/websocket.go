package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"slices"

	"meeting-live/internal/apperr"
	"meeting-live/internal/broadcast"
	"meeting-live/internal/directory"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/gorilla/websocket"
)

// Snapshot messages sent to a subscriber right after it connects.
const (
	msgLotteryState = "lottery.state"
	msgPollState    = "poll.state"
)

type subscribeQuery struct {
	ParticipantID string `form:"participantId"`
}

type inboundMessage struct {
	Type          string             `json:"type"`
	Participant   *directory.Profile `json:"participant"`
	ParticipantID string             `json:"participantId"`
}

type replyMessage struct {
	Type  string `json:"type"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) upgrader() websocket.Upgrader {
	origins := s.cfg.AllowedOrigins()
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(origins) == 0 || slices.Contains(origins, "*") {
				return true
			}
			return slices.Contains(origins, origin)
		},
	}
}

func (s *Server) handleWebsocket(c *gin.Context) {
	var uri sessionURI
	if !bindURI(c, &uri) {
		return
	}
	var query subscribeQuery
	if !bindQuery(c, &query) {
		return
	}
	if !s.requireSession(c, uri.SessionID) {
		return
	}
	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	client := broadcast.NewWSClient(conn)
	log.Printf("ws connected session_id=%d subscriber=%s remote=%s", uri.SessionID, client.ID(), c.ClientIP())

	s.hub.Join(uri.SessionID, client)
	s.sendSnapshot(context.Background(), client, uri.SessionID, query.ParticipantID)
	go client.WritePump()

	remote := c.ClientIP()
	go func() {
		defer func() {
			s.hub.Leave(uri.SessionID, client)
			log.Printf("ws disconnected session_id=%d subscriber=%s", uri.SessionID, client.ID())
		}()
		client.ReadPump(func(msg []byte) {
			s.handleInbound(client, uri.SessionID, remote, msg)
		})
	}()
}

// sendSnapshot gives a new subscriber the current lottery state and, when a
// poll is running, its state.
func (s *Server) sendSnapshot(ctx context.Context, sub broadcast.Subscriber, sessionID uint, participantID string) {
	state, err := s.lottery.State(ctx, sessionID, participantID)
	if err != nil {
		log.Printf("snapshot failed session_id=%d error=%v", sessionID, err)
	} else {
		s.hub.SendTo(sub, sessionID, msgLotteryState, state)
	}
	active, err := s.polls.ActiveForSession(ctx, sessionID, participantID)
	if err != nil {
		log.Printf("poll snapshot failed session_id=%d error=%v", sessionID, err)
		return
	}
	if active != nil {
		s.hub.SendTo(sub, sessionID, msgPollState, active)
	}
}

func (s *Server) handleInbound(client *broadcast.WSClient, sessionID uint, remote string, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.reply(client, replyMessage{Type: "error", Code: apperr.CodeInvalidRequest, Error: "malformed message"})
		return
	}
	ctx := context.Background()
	switch msg.Type {
	case "ping":
		s.reply(client, replyMessage{Type: "pong"})
	case "lottery.join":
		if msg.Participant == nil {
			s.reply(client, replyMessage{Type: "error", Code: apperr.CodeInvalidRequest, Error: "participant is required"})
			return
		}
		if !s.limiter.allow("join:" + remote) {
			s.reply(client, replyMessage{Type: "error", Code: apperr.CodeRateLimited, Error: "too many requests, slow down"})
			return
		}
		req := joinRequest{
			ParticipantID: msg.Participant.ID,
			Name:          msg.Participant.Name,
			Department:    msg.Participant.Department,
			AvatarURL:     msg.Participant.AvatarURL,
		}
		if err := binding.Validator.ValidateStruct(req); err != nil {
			s.reply(client, replyMessage{Type: "error", Code: apperr.CodeInvalidRequest, Error: resolveBindError(err, participantMessages, "invalid participant")})
			return
		}
		if _, err := s.lottery.Join(ctx, sessionID, req.profile()); err != nil {
			s.replyError(client, err)
		}
	case "lottery.leave":
		req := leaveRequest{ParticipantID: msg.ParticipantID}
		if err := binding.Validator.ValidateStruct(req); err != nil {
			s.reply(client, replyMessage{Type: "error", Code: apperr.CodeInvalidRequest, Error: resolveBindError(err, participantMessages, "invalid participant")})
			return
		}
		if _, err := s.lottery.Leave(ctx, sessionID, req.ParticipantID); err != nil {
			s.replyError(client, err)
		}
	default:
		s.reply(client, replyMessage{Type: "error", Code: apperr.CodeInvalidRequest, Error: "unknown message type"})
	}
}

func (s *Server) replyError(client *broadcast.WSClient, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		appErr = &apperr.Error{Code: apperr.CodePersistenceFailure, Message: "internal error"}
	}
	s.reply(client, replyMessage{Type: "error", Code: appErr.Code, Error: appErr.Message})
}

func (s *Server) reply(client *broadcast.WSClient, msg replyMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	client.Send(data)
}
