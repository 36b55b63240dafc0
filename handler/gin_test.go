package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"chat-history-agent/internal/domain"
)

func newGinServer(t *testing.T, conv Conversation, opts ...Option) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h, err := NewHandler(factoryFor(conv), opts...)
	require.NoError(t, err)
	r := gin.New()
	h.Register(r)
	return r
}

func TestGin_Chat(t *testing.T) {
	r := newGinServer(t, &stubConversation{answer: "Hi there"})

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"question":"Hello"}`))
	req.Header.Set("X-Correlation-Id", "corr-9")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "corr-9", rec.Header().Get("X-Correlation-Id"))
	out := parseBody[turnsResponse](t, rec.Body.String())
	require.Equal(t, "Hi there", out.Turns[1].Content)
}

func TestGin_HistoryAndPurge(t *testing.T) {
	conv := &stubConversation{
		stored: []domain.Turn{{Type: domain.TurnQuestion, Content: "q"}},
		purged: 1,
	}
	r := newGinServer(t, conv)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, parseBody[turnsResponse](t, rec.Body.String()).Turns, 1)
	require.NotEmpty(t, rec.Header().Get("X-Correlation-Id"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"deleted":1}`, rec.Body.String())
}

func TestGin_InvalidBody(t *testing.T) {
	r := newGinServer(t, &stubConversation{})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("{")))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_json", parseBody[errorResponse](t, rec.Body.String()).Reason)
}

func TestGin_RejectsOversizedBody(t *testing.T) {
	conv := &stubConversation{answer: "unused"}
	r := newGinServer(t, conv, WithMaxBodyBytes(64))

	body := `{"question":"hi","history":[{"type":"question","content":"` + strings.Repeat("x", 128) + `"}]}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body)))

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	out := parseBody[errorResponse](t, rec.Body.String())
	require.Equal(t, "body_too_large", out.Reason)
	require.Empty(t, conv.submitted)
}

func TestNewHandler_DefaultBodyCapFollowsQuestionLength(t *testing.T) {
	h, err := NewHandler(factoryFor(&stubConversation{}), WithMaxQuestionLength(100))
	require.NoError(t, err)
	require.Equal(t, int64(100*4+historyHeadroom), h.maxBodyBytes)
}
