package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// HealthResponse is returned by health endpoints. The public HTTP endpoint
// only populates Status; the authenticated RPC handler fills the rest.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version,omitempty"`
	Clients       int    `json:"clients,omitempty"`
	Conversations int    `json:"conversations,omitempty"`
	LLM           string `json:"llm,omitempty"`
	Speech        bool   `json:"speech,omitempty"`
	UptimeMs      int64  `json:"uptimeMs,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

// RequestHandler processes an incoming RPC request frame from a client.
type RequestHandler func(rc *RequestContext)

// RequestContext carries everything a handler needs. Context is cancelled
// when the connection closes or the server shuts down.
type RequestContext struct {
	Context context.Context
	Client  *Client
	Frame   Frame
	Server  *Server
}

func (rc *RequestContext) ctx() context.Context {
	if rc.Context == nil {
		return context.Background()
	}
	return rc.Context
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.respondShape(ErrorShape{Code: code, Message: message})
}

func (rc *RequestContext) respondShape(shape ErrorShape) {
	if err := rc.Client.RespondError(rc.Frame.ID, shape); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send error response")
	}
}

// Params unmarshals the request params into the given target.
func (rc *RequestContext) Params(target any) error {
	if rc.Frame.Params == nil {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, target)
}

// rpcParams are request params that can default from the client binding
// and validate themselves.
type rpcParams interface {
	validation.Validatable
	fill(c *Client)
}

// Bind decodes and validates the params into p. On failure it responds
// with invalid_params and returns false.
func (rc *RequestContext) Bind(p rpcParams) bool {
	if err := rc.Params(p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return false
	}
	p.fill(rc.Client)
	if err := p.Validate(); err != nil {
		shape := ErrorShape{Code: CodeInvalidParams, Message: err.Error()}
		var fields validation.Errors
		if errors.As(err, &fields) {
			shape.Details = fields
		}
		rc.respondShape(shape)
		return false
	}
	return true
}
