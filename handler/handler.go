package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"chat-history-agent/internal/domain"
	"chat-history-agent/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"

	defaultMaxQuestionLength = 4000
	// historyHeadroom is the body allowance for the posted history.
	historyHeadroom = 4 << 20

	codeNotFound         = "NOT_FOUND"
	codeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

// Conversation is the part of usecase.Session the API drives.
type Conversation interface {
	Restore(turns []domain.Turn) error
	Submit(ctx context.Context, text string) error
	Turns() []domain.Turn
	Refresh(ctx context.Context) (int, error)
	PurgeRemote(ctx context.Context) (int, error)
}

// SessionFactory returns a fresh conversation for one request. The browser
// owns the view state, so nothing is shared between requests.
type SessionFactory func() (Conversation, error)

type chatRequest struct {
	Question string        `json:"question"`
	History  []domain.Turn `json:"history"`
}

type turnsResponse struct {
	Turns []domain.Turn `json:"turns"`
}

type deleteResponse struct {
	Deleted int `json:"deleted"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type Handler struct {
	newSession        SessionFactory
	maxQuestionLength int
	maxBodyBytes      int64
}

type Option func(*Handler)

// WithMaxQuestionLength caps the question size in characters.
func WithMaxQuestionLength(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxQuestionLength = n
		}
	}
}

// WithMaxBodyBytes overrides the request body cap of the gin adapter.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

func NewHandler(newSession SessionFactory, opts ...Option) (*Handler, error) {
	if newSession == nil {
		return nil, errors.New("handler: session factory must not be nil")
	}
	h := &Handler{newSession: newSession, maxQuestionLength: defaultMaxQuestionLength}
	for _, opt := range opts {
		opt(h)
	}
	if h.maxBodyBytes == 0 {
		// A rune is at most 4 bytes in UTF-8; JSON escaping is covered by
		// the headroom.
		h.maxBodyBytes = int64(h.maxQuestionLength)*utf8.UTFMax + historyHeadroom
	}
	return h, nil
}

// Handle serves API Gateway proxy events.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := correlationIDFrom(req.Headers)
	status, payload := h.serve(ctx, correlationID, req.HTTPMethod, req.Path, []byte(req.Body))

	body, err := json.Marshal(payload)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(body),
	}, nil
}

// serve routes one request and returns the status and JSON payload.
func (h *Handler) serve(ctx context.Context, correlationID, method, path string, body []byte) (int, any) {
	logger := log.With().Str("correlation_id", correlationID).Str("method", method).Str("path", path).Logger()

	var (
		status  int
		payload any
	)
	switch normalizePath(path) {
	case "/chat":
		if method != http.MethodPost {
			return http.StatusMethodNotAllowed, errorResponse{Error: codeMethodNotAllowed}
		}
		status, payload = h.chat(ctx, body)
	case "/history":
		switch method {
		case http.MethodGet:
			status, payload = h.history(ctx)
		case http.MethodDelete:
			status, payload = h.purge(ctx)
		default:
			return http.StatusMethodNotAllowed, errorResponse{Error: codeMethodNotAllowed}
		}
	default:
		return http.StatusNotFound, errorResponse{Error: codeNotFound}
	}

	if er, ok := payload.(errorResponse); ok {
		logger.Warn().Int("status", status).Str("code", er.Error).Str("reason", er.Reason).Msg("request failed")
	} else {
		logger.Info().Int("status", status).Msg("request served")
	}
	return status, payload
}

func (h *Handler) chat(ctx context.Context, body []byte) (int, any) {
	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return errorFor(usecase.NewError(usecase.ErrorInvalidInput, "invalid_json", err))
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return errorFor(usecase.NewError(usecase.ErrorInvalidInput, "empty_question", nil))
	}
	if utf8.RuneCountInString(question) > h.maxQuestionLength {
		return errorFor(usecase.NewError(usecase.ErrorInvalidInput, "question_too_long", nil))
	}
	for _, t := range req.History {
		if !t.Type.Valid() {
			return errorFor(usecase.NewError(usecase.ErrorInvalidInput, "invalid_history", nil))
		}
	}

	sess, err := h.newSession()
	if err != nil {
		return errorFor(usecase.Classify(err, "session_error"))
	}
	if err := sess.Restore(req.History); err != nil {
		return errorFor(usecase.Classify(err, "restore_error"))
	}
	if err := sess.Submit(ctx, question); err != nil {
		return errorFor(usecase.Classify(err, "submit_error"))
	}

	turns := sess.Turns()
	if len(turns) < 2 {
		return errorFor(usecase.NewError(usecase.ErrorInternal, "missing_answer", nil))
	}
	return http.StatusOK, turnsResponse{Turns: turns[len(turns)-2:]}
}

func (h *Handler) history(ctx context.Context) (int, any) {
	sess, err := h.newSession()
	if err != nil {
		return errorFor(usecase.Classify(err, "session_error"))
	}
	if _, err := sess.Refresh(ctx); err != nil {
		return errorFor(usecase.Classify(err, "refresh_error"))
	}
	return http.StatusOK, turnsResponse{Turns: nonNil(sess.Turns())}
}

func (h *Handler) purge(ctx context.Context) (int, any) {
	sess, err := h.newSession()
	if err != nil {
		return errorFor(usecase.Classify(err, "session_error"))
	}
	n, err := sess.PurgeRemote(ctx)
	if err != nil {
		return errorFor(usecase.NewError(usecase.ErrorUpstream, "purge_failed", err))
	}
	return http.StatusOK, deleteResponse{Deleted: n}
}

func errorFor(err error) (int, any) {
	ue := usecase.Classify(err, "unexpected")
	return statusFor(ue.Code), errorResponse{Error: string(ue.Code), Reason: ue.Reason}
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorBusy:
		return http.StatusConflict
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func correlationIDFrom(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return uuid.NewString()
}

func normalizePath(p string) string {
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/"
	}
	return p
}

func nonNil(turns []domain.Turn) []domain.Turn {
	if turns == nil {
		return []domain.Turn{}
	}
	return turns
}
