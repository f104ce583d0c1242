package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/soyeahso/callpilot/internal/agent"
	"github.com/soyeahso/callpilot/internal/domain"
)

// turnTimeout bounds one chat.send including extraction and speech.
const turnTimeout = 2 * time.Minute

const maxConversationID = 128

func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if s.metricsHandler != nil {
		mux.Handle("GET "+s.metricsPath, s.metricsHandler)
	}
	mux.HandleFunc("/", handleNotFound)
}

func (s *Server) registerRPCHandlers() {
	s.Handle(MethodHealth, s.rpcHealth)
	s.Handle(MethodConversationStart, s.requireRunner(s.rpcConversationStart))
	s.Handle(MethodConversationReset, s.requireRunner(s.rpcConversationReset))
	s.Handle(MethodConversationHistory, s.requireRunner(s.rpcConversationHistory))
	s.Handle(MethodChatSend, s.requireRunner(s.rpcChatSend))
	s.Handle(MethodAppointmentGet, s.requireRunner(s.rpcAppointmentGet))
}

func (s *Server) requireRunner(h RequestHandler) RequestHandler {
	return func(rc *RequestContext) {
		if s.runner == nil {
			rc.RespondError(CodeUnavailable, "no conversation runner configured")
			return
		}
		h(rc)
	}
}

func (s *Server) rpcHealth(rc *RequestContext) {
	resp := HealthResponse{
		Status:   "ok",
		Version:  s.version,
		Clients:  s.clients.Count(),
		LLM:      s.llmName,
		Speech:   s.speech,
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
	}
	if s.runner != nil {
		resp.Conversations = s.runner.Loaded()
	}
	rc.Respond(resp)
}

// conversationParams address an optional conversation.
type conversationParams struct {
	ConversationID string `json:"conversationId,omitempty"`
}

func (p *conversationParams) fill(*Client) {}

func (p *conversationParams) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.ConversationID, validation.Length(1, maxConversationID)),
	)
}

// boundParams address a conversation that defaults to the client binding.
type boundParams struct {
	ConversationID string `json:"conversationId"`
}

func (p *boundParams) fill(c *Client) {
	if p.ConversationID == "" {
		p.ConversationID = c.Conversation()
	}
}

func (p *boundParams) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.ConversationID, validation.Required, validation.Length(1, maxConversationID)),
	)
}

type chatSendParams struct {
	boundParams
	Message string `json:"message"`
}

func (p *chatSendParams) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.ConversationID, validation.Required, validation.Length(1, maxConversationID)),
		validation.Field(&p.Message, validation.Required),
	)
}

type startResponse struct {
	ConversationID string              `json:"conversationId"`
	Created        bool                `json:"created"`
	Turns          []domain.Turn       `json:"turns"`
	Slots          domain.SlotState    `json:"slots"`
	State          string              `json:"state"`
	Booking        *domain.Appointment `json:"booking,omitempty"`
}

func (s *Server) rpcConversationStart(rc *RequestContext) {
	var p conversationParams
	if !rc.Bind(&p) {
		return
	}
	sess, err := s.runner.Start(rc.ctx(), p.ConversationID)
	if err != nil {
		s.internalError(rc, err)
		return
	}
	rc.Client.Bind(sess.ConversationID)
	rc.Respond(startResponse{
		ConversationID: sess.ConversationID,
		Created:        sess.Created,
		Turns:          nonNilTurns(sess.Turns),
		Slots:          sess.Slots,
		State:          sess.State,
		Booking:        sess.Booking,
	})
}

func (s *Server) rpcConversationReset(rc *RequestContext) {
	var p conversationParams
	if !rc.Bind(&p) {
		return
	}
	if p.ConversationID == "" {
		p.ConversationID = rc.Client.Conversation()
	}
	id, err := s.runner.Reset(rc.ctx(), p.ConversationID)
	if err != nil {
		s.internalError(rc, err)
		return
	}
	rc.Client.Bind(id)
	rc.Respond(map[string]any{"conversationId": id})
}

func (s *Server) rpcConversationHistory(rc *RequestContext) {
	var p boundParams
	if !rc.Bind(&p) {
		return
	}
	turns, err := s.runner.History(rc.ctx(), p.ConversationID)
	if err != nil {
		s.internalError(rc, err)
		return
	}
	rc.Respond(map[string]any{
		"conversationId": p.ConversationID,
		"turns":          nonNilTurns(turns),
	})
}

type replyEvent struct {
	ConversationID string      `json:"conversationId"`
	RequestID      string      `json:"requestId"`
	Reply          domain.Turn `json:"reply"`
}

func (s *Server) rpcChatSend(rc *RequestContext) {
	var p chatSendParams
	if !rc.Bind(&p) {
		return
	}

	ctx, cancel := context.WithTimeout(rc.ctx(), turnTimeout)
	defer cancel()

	res, err := s.runner.HandleTurn(ctx, p.ConversationID, p.Message, func(turn domain.Turn) {
		if err := rc.Client.SendEvent(EventChatReply, replyEvent{
			ConversationID: p.ConversationID,
			RequestID:      rc.Frame.ID,
			Reply:          turn,
		}); err != nil {
			s.log.Warn().Err(err).Str("connId", rc.Client.ConnID).Msg("failed to push reply")
		}
	})
	switch {
	case errors.Is(err, agent.ErrEmptyMessage):
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	case err != nil:
		s.internalError(rc, err)
		return
	}
	rc.Client.Bind(res.ConversationID)
	rc.Respond(res)
}

func (s *Server) rpcAppointmentGet(rc *RequestContext) {
	var p boundParams
	if !rc.Bind(&p) {
		return
	}
	booking, all, err := s.runner.Appointments(rc.ctx(), p.ConversationID)
	if err != nil {
		s.internalError(rc, err)
		return
	}
	if all == nil {
		all = []domain.Appointment{}
	}
	rc.Respond(map[string]any{
		"conversationId": p.ConversationID,
		"appointment":    booking,
		"history":        all,
	})
}

func (s *Server) internalError(rc *RequestContext, err error) {
	s.log.Error().Err(err).Str("method", rc.Frame.Method).Str("connId", rc.Client.ConnID).Msg("request failed")
	rc.RespondError(CodeInternal, "request failed")
}

func nonNilTurns(turns []domain.Turn) []domain.Turn {
	if turns == nil {
		return []domain.Turn{}
	}
	return turns
}
