package chat

import (
	"embed"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/kbukum/localchat/errors"
	"github.com/kbukum/localchat/internal/conversation"
	"github.com/kbukum/localchat/server"
	"github.com/kbukum/localchat/sse"
	"github.com/kbukum/localchat/validation"
)

//go:embed web/index.html
var webFS embed.FS

// SendRequest is the body of POST /chatbot.
type SendRequest struct {
	Message string `json:"message" validate:"notblank,utf8"`
}

// SendResponse is the body of a successful POST /chatbot.
type SendResponse struct {
	Response string `json:"response"`
}

// Events written by POST /chatbot/stream.
const (
	EventToken = "token"
	EventDone  = sse.EventDone
	EventError = sse.EventError
)

// TokenEvent carries one generated piece of the reply.
type TokenEvent struct {
	Text string `json:"text"`
}

// keepAliveInterval spaces comments on an open stream.
const keepAliveInterval = 15 * time.Second

// HistoryResponse is the body of GET /chatbot/history.
type HistoryResponse struct {
	SessionID string              `json:"session_id"`
	Turns     []conversation.Turn `json:"turns"`
}

// Handler serves the chat API and UI.
type Handler struct {
	orch  *Orchestrator
	index []byte
}

// NewHandler creates the HTTP handlers for o.
func NewHandler(o *Orchestrator) *Handler {
	index, _ := webFS.ReadFile("web/index.html")
	return &Handler{orch: o, index: index}
}

// Register mounts the chat routes.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/", h.Index)
	r.POST("/chatbot", h.Send)
	r.POST("/chatbot/stream", h.Stream)
	r.GET("/chatbot/history", h.History)
}

// Send answers one message.
func (h *Handler) Send(c *gin.Context) {
	req, ok := bindSend(c)
	if !ok {
		return
	}
	reply, err := h.orch.Handle(c.Request.Context(), req.Message)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.RespondOK(c, SendResponse{Response: reply.Text})
}

// Stream answers one message as server-sent events: a "token" event per
// generated piece, then "done" with the full reply. Failures before the
// first piece get a regular JSON error response; later ones an "error"
// event carrying the same body.
func (h *Handler) Stream(c *gin.Context) {
	req, ok := bindSend(c)
	if !ok {
		return
	}

	var (
		w        *sse.Writer
		stopPing = func() {}
		writeErr error
	)
	defer func() { stopPing() }()

	reply, err := h.orch.HandleStream(c.Request.Context(), req.Message, func(piece string) {
		if w == nil && writeErr == nil {
			if w, writeErr = sse.NewWriter(c.Writer); writeErr != nil {
				return
			}
			c.Status(http.StatusOK)
			stopPing = w.KeepAlive(keepAliveInterval)
		}
		if w != nil {
			_ = w.Send(EventToken, TokenEvent{Text: piece})
		}
	})

	switch {
	case w == nil && writeErr != nil:
		server.RespondWithError(c, apperrors.Internal(writeErr))
	case w == nil:
		if err != nil {
			server.RespondWithError(c, err)
			return
		}
		server.RespondOK(c, SendResponse{Response: reply.Text})
	case err != nil:
		_ = w.Send(EventError, apperrors.Wrap(err).ToResponse())
	default:
		_ = w.Send(EventDone, SendResponse{Response: reply.Text})
	}
}

func bindSend(c *gin.Context) (SendRequest, bool) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			server.RespondWithError(c, apperrors.New(apperrors.ErrCodeInvalidInput,
				"The request body is too large.", http.StatusRequestEntityTooLarge).
				WithDetail("limit_bytes", tooLarge.Limit))
			return req, false
		}
		server.RespondWithError(c, apperrors.InvalidFormat("body", `{"message": "<text>"}`).WithCause(err))
		return req, false
	}
	if err := validation.Validate(req); err != nil {
		server.RespondWithError(c, err)
		return req, false
	}
	return req, true
}

// History returns the stored turns, oldest first.
func (h *Handler) History(c *gin.Context) {
	s := h.orch.Session()
	server.RespondOK(c, HistoryResponse{SessionID: s.ID, Turns: s.Store.Snapshot()})
}

// Index serves the chat page.
func (h *Handler) Index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", h.index)
}
