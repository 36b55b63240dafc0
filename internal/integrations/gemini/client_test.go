package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-history-agent/internal/domain"
)

// ---------------------------------------------------------------------------
// generateURL helper
// ---------------------------------------------------------------------------

func TestGenerateURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://generativelanguage.googleapis.com", "https://generativelanguage.googleapis.com/v1beta/models/m:generateContent"},
		{"https://generativelanguage.googleapis.com/v1beta/", "https://generativelanguage.googleapis.com/v1beta/models/m:generateContent"},
		{"http://localhost:8080", "http://localhost:8080/v1beta/models/m:generateContent"},
		{"", "https://generativelanguage.googleapis.com/v1beta/models/m:generateContent"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, generateURL(tc.base, "m"), "base=%q", tc.base)
	}
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

func TestNewClient_RequiresKeySource(t *testing.T) {
	_, err := NewClient()
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")

	_, err = NewClient(WithAPIKey("   "))
	require.Error(t, err)
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(WithAPIKey("k"))
	require.NoError(t, err)
	require.Equal(t, defaultBaseURL, c.baseURL)
	require.Equal(t, "gemini-2.0-flash", c.Model())

	c, err = NewClient(WithAPIKey("k"), WithModel("gemini-1.5-pro"))
	require.NoError(t, err)
	require.Equal(t, "gemini-1.5-pro", c.Model())
}

// ---------------------------------------------------------------------------
// key resolution
// ---------------------------------------------------------------------------

// fakeGetter is a minimal paramstore.Getter stub for use within this package.
type fakeGetter struct {
	val    string
	err    error
	onCall func()
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func TestResolveAPIKey_ParamStoreFetchedOnce(t *testing.T) {
	calls := 0
	g := &fakeGetter{val: `{"token":"key-from-ssm"}`}
	g.onCall = func() { calls++ }
	c, err := NewClient(WithParamStore(g, "/chat/gemini-api-key"))
	require.NoError(t, err)

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "key-from-ssm", key)

	_, _ = c.resolveAPIKey(context.Background())
	require.Equal(t, 1, calls, "SSM must only be called once per process lifetime")
}

func TestResolveAPIKey_RetriesAfterFailure(t *testing.T) {
	calls := 0
	g := &fakeGetter{}
	g.onCall = func() {
		calls++
		if calls == 1 {
			g.val, g.err = "", errors.New("ThrottlingException")
			return
		}
		g.val, g.err = `{"token":"key-from-ssm"}`, nil
	}
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-goog-api-key")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(WithParamStore(g, "/chat/gemini-api-key"), WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), nil, "")
	require.ErrorIs(t, err, ErrGenerationFailed)
	require.Contains(t, err.Error(), "ThrottlingException")

	for i := 0; i < 2; i++ {
		text, err := c.Generate(context.Background(), nil, "")
		require.NoError(t, err)
		require.Equal(t, "ok", text)
	}
	require.Equal(t, "key-from-ssm", gotKey)
	require.Equal(t, 2, calls, "a failed fetch is retried, a successful one is cached")
}

func TestResolveAPIKey_StaticKeyWins(t *testing.T) {
	g := &fakeGetter{err: errors.New("must not be called")}
	c, err := NewClient(WithParamStore(g, "/chat/gemini-api-key"), WithAPIKey("static"))
	require.NoError(t, err)
	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "static", key)
}

func TestFetchAPIKey(t *testing.T) {
	_, err := fetchAPIKeyFromParamStore(context.Background(), &fakeGetter{val: `{"other":"value"}`}, "/p")
	require.ErrorContains(t, err, "API key is empty")

	_, err = fetchAPIKeyFromParamStore(context.Background(), &fakeGetter{val: `{"broken`}, "/p")
	require.ErrorContains(t, err, "unmarshal")

	_, err = fetchAPIKeyFromParamStore(context.Background(), &fakeGetter{err: errors.New("ssm unavailable")}, "/p")
	require.ErrorContains(t, err, "ssm unavailable")

	_, err = fetchAPIKeyFromParamStore(context.Background(), nil, "/p")
	require.ErrorContains(t, err, "nil")

	_, err = fetchAPIKeyFromParamStore(context.Background(), &fakeGetter{val: `{"token":"k"}`}, " ")
	require.ErrorContains(t, err, "empty")
}

// ---------------------------------------------------------------------------
// buildContents
// ---------------------------------------------------------------------------

func TestBuildContents_MapsRolesInOrder(t *testing.T) {
	history := []domain.Turn{
		{Type: domain.TurnQuestion, Content: "Hello"},
		{Type: domain.TurnAnswer, Content: "Hi there"},
		{Type: domain.TurnQuestion, Content: "How are you?"},
	}
	got := buildContents(history, "")
	require.Equal(t, []content{
		{Role: "user", Parts: []part{{Text: "Hello"}}},
		{Role: "model", Parts: []part{{Text: "Hi there"}}},
		{Role: "user", Parts: []part{{Text: "How are you?"}}},
	}, got)
}

func TestBuildContents_PrependsSystemInstruction(t *testing.T) {
	got := buildContents([]domain.Turn{{Type: domain.TurnQuestion, Content: "Hello"}}, "  Be brief.  ")
	require.Len(t, got, 2)
	require.Equal(t, content{Role: "user", Parts: []part{{Text: "Be brief."}}}, got[0])
	require.Equal(t, "Hello", got[1].Parts[0].Text)
}

// ---------------------------------------------------------------------------
// Client.Generate
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(
		WithAPIKey("test-key"),
		WithBaseURL(srv.URL),
		WithModel("gemini-mock"),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	require.NoError(t, err)
	return c
}

func TestClient_Generate_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1beta/models/gemini-mock:generateContent", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req generateRequest
		require.NoError(t, json.Unmarshal(raw, &req))
		require.Len(t, req.Contents, 2)
		require.Equal(t, "user", req.Contents[0].Role)
		require.Equal(t, "You are helpful.", req.Contents[0].Parts[0].Text)
		require.Equal(t, "Hello", req.Contents[1].Parts[0].Text)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Hi there"}]}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	text, err := c.Generate(context.Background(), []domain.Turn{{Type: domain.TurnQuestion, Content: "Hello"}}, "You are helpful.")
	require.NoError(t, err)
	require.Equal(t, "Hi there", text)
}

func TestClient_Generate_Failures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{name: "bad request", status: 400, body: `{"error":"bad"}`, want: "400"},
		{name: "rate limited", status: 429, body: `{"error":"slow down"}`, want: "429"},
		{name: "server error", status: 500, body: `{}`, want: "500"},
		{name: "invalid json", status: 200, body: `not-a-json`, want: "decode response"},
		{name: "no candidates", status: 200, body: `{"candidates":[]}`, want: "no candidates"},
		{name: "no content", status: 200, body: `{"candidates":[{}]}`, want: "no text part"},
		{name: "no parts", status: 200, body: `{"candidates":[{"content":{"parts":[]}}]}`, want: "no text part"},
		{name: "empty text", status: 200, body: `{"candidates":[{"content":{"parts":[{"text":""}]}}]}`, want: "empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := newTestClient(t, srv)
			_, err := c.Generate(context.Background(), []domain.Turn{{Type: domain.TurnQuestion, Content: "hi"}}, "")
			require.Error(t, err)
			require.ErrorIs(t, err, ErrGenerationFailed)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestClient_Generate_StatusErrorIsExposed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Generate(context.Background(), nil, "")
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusServiceUnavailable, statusErr.HTTPStatusCode())
}

func TestClient_Generate_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	_, err := c.Generate(context.Background(), nil, "")
	require.ErrorIs(t, err, ErrGenerationFailed)
}

func TestClient_Generate_NetworkError(t *testing.T) {
	c, err := NewClient(WithAPIKey("k"))
	require.NoError(t, err)
	c.baseURL = "http://127.0.0.1:1"
	c.httpClient = &http.Client{Timeout: 100 * time.Millisecond}

	_, err = c.Generate(context.Background(), nil, "")
	require.ErrorIs(t, err, ErrGenerationFailed)
	require.Contains(t, err.Error(), "request failed")
}

func TestClient_Generate_KeyLookupFailure(t *testing.T) {
	c, err := NewClient(WithParamStore(&fakeGetter{err: errors.New("denied")}, "/chat/gemini-api-key"))
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), nil, "")
	require.ErrorIs(t, err, ErrGenerationFailed)
	require.Contains(t, err.Error(), "denied")
}
