package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testAssets = fstest.MapFS{
	"ui_assets/index.html": {Data: []byte("<html>home</html>")},
	"ui_assets/app.js":     {Data: []byte("console.log(1)")},
	"ui_assets/style.css":  {Data: []byte("body{}")},
}

type echoHandler struct {
	endpoint string
	entered  chan struct{}
	release  chan struct{}
}

func (h *echoHandler) Endpoint() string { return h.endpoint }

func (h *echoHandler) HandleRequest(ctx context.Context, payload []byte) []byte {
	if h.entered != nil {
		h.entered <- struct{}{}
		<-h.release
	}
	return append([]byte("handled:"), payload...)
}

func newTestServer(t *testing.T, handlers ...TaskHandler) *WebServer {
	t.Helper()
	s, err := NewWebServer(Config{
		Assets:        testAssets,
		AssetsBaseDir: "ui_assets",
		IdleTimeout:   time.Second,
	}, zap.NewNop(), handlers...)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestStatus(t *testing.T) {
	w := do(t, newTestServer(t).Handler(), http.MethodGet, "/status", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Server is alive\n", w.Body.String())
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestHomePage(t *testing.T) {
	w := do(t, newTestServer(t).Handler(), http.MethodGet, "/", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<html>home</html>", w.Body.String())
	assert.Equal(t, "text/html", w.Header().Get("Content-Type"))
}

func TestAssetsContentType(t *testing.T) {
	h := newTestServer(t).Handler()

	tests := []struct {
		target, body, contentType string
	}{
		{"/ui_assets/app.js", "console.log(1)", "text/javascript"},
		{"/ui_assets/style.css", "body{}", "text/css"},
		{"/ui_assets/index.html", "<html>home</html>", "text/html"},
	}
	for _, tc := range tests {
		w := do(t, h, http.MethodGet, tc.target, "")
		assert.Equal(t, http.StatusOK, w.Code, tc.target)
		assert.Equal(t, tc.body, w.Body.String(), tc.target)
		assert.Equal(t, tc.contentType, w.Header().Get("Content-Type"), tc.target)
	}
}

func TestMissingAssetIsEmpty(t *testing.T) {
	h := newTestServer(t).Handler()

	for _, target := range []string{"/nope.js", "/ui_assets", "/ui_assets/../secret"} {
		w := do(t, h, http.MethodGet, target, "")
		assert.Equal(t, http.StatusOK, w.Code, target)
		assert.Empty(t, w.Body.String(), target)
	}
}

func TestTaskEndpointPassesBytesThrough(t *testing.T) {
	handler := &echoHandler{endpoint: "/documents_search"}
	w := do(t, newTestServer(t, handler).Handler(), http.MethodPost, "/documents_search", `{"search_query":"x"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `handled:{"search_query":"x"}`, w.Body.String())
}

type emptyHandler struct{}

func (emptyHandler) Endpoint() string { return "/empty" }

func (emptyHandler) HandleRequest(context.Context, []byte) []byte { return []byte{} }

func TestRoutesMatchByPathPrefix(t *testing.T) {
	h := newTestServer(t, &echoHandler{endpoint: "/documents_search"}).Handler()

	for _, target := range []string{"/status/extra", "/status/", "/statusz"} {
		w := do(t, h, http.MethodGet, target, "")
		assert.Equal(t, http.StatusOK, w.Code, target)
		assert.Equal(t, "Server is alive\n", w.Body.String(), target)
	}

	w := do(t, h, http.MethodPost, "/documents_search/v2", "q")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "handled:q", w.Body.String())

	w = do(t, h, http.MethodGet, "/ui_assets/app.js", "")
	assert.Equal(t, "console.log(1)", w.Body.String())
}

func TestLongestPrefixWins(t *testing.T) {
	h := newTestServer(t,
		&echoHandler{endpoint: "/search"},
		staticHandler{endpoint: "/search/docs", body: "docs"},
	).Handler()

	assert.Equal(t, "docs", do(t, h, http.MethodPost, "/search/docs/x", "q").Body.String())
	assert.Equal(t, "handled:q", do(t, h, http.MethodPost, "/search/other", "q").Body.String())
}

type staticHandler struct {
	endpoint, body string
}

func (h staticHandler) Endpoint() string { return h.endpoint }

func (h staticHandler) HandleRequest(context.Context, []byte) []byte { return []byte(h.body) }

func TestTaskEndpointEmptyResponse(t *testing.T) {
	w := do(t, newTestServer(t, emptyHandler{}).Handler(), http.MethodPost, "/empty", "garbage")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestWrongMethodClosesConnection(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t, &echoHandler{endpoint: "/documents_search"}).Handler())
	defer srv.Close()

	tests := []struct {
		method, path string
	}{
		{http.MethodPost, "/status"},
		{http.MethodPost, "/status/extra"},
		{http.MethodGet, "/documents_search/x"},
		{http.MethodGet, "/documents_search"},
		{http.MethodPut, "/documents_search"},
		{http.MethodPost, "/"},
		{http.MethodDelete, "/ui_assets/app.js"},
	}
	for _, tc := range tests {
		req, err := http.NewRequest(tc.method, srv.URL+tc.path, strings.NewReader("x"))
		require.NoError(t, err)

		resp, err := srv.Client().Do(req)
		if err == nil {
			resp.Body.Close()
		}
		assert.Error(t, err, "%s %s", tc.method, tc.path)
	}
}

func TestNewWebServerRejectsBadEndpoints(t *testing.T) {
	for _, endpoint := range []string{"/status", "/", "no-slash"} {
		_, err := NewWebServer(Config{}, nil, &echoHandler{endpoint: endpoint})
		assert.Error(t, err, endpoint)
	}

	_, err := NewWebServer(Config{}, nil, &echoHandler{endpoint: "/a"}, &echoHandler{endpoint: "/a"})
	assert.Error(t, err)
}

func TestStartFailsWhenPortTaken(t *testing.T) {
	first, err := NewWebServer(Config{Addr: "127.0.0.1:0"}, nil)
	require.NoError(t, err)
	require.NoError(t, first.Start())
	defer first.Shutdown(context.Background())

	second, err := NewWebServer(Config{Addr: first.Addr().String()}, nil)
	require.NoError(t, err)
	assert.Error(t, second.Start())
}

func newClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{DisableKeepAlives: true},
	}
}

func getStatus(t *testing.T, base string) {
	t.Helper()
	resp, err := newClient(2 * time.Second).Get(base + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "Server is alive\n", string(body))
}

func TestWorkersBoundConcurrentRequests(t *testing.T) {
	handler := &echoHandler{
		endpoint: "/slow",
		entered:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	s, err := NewWebServer(Config{Addr: "127.0.0.1:0", Workers: 1, IdleTimeout: time.Second}, zap.NewNop(), handler)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Shutdown(context.Background())

	base := "http://" + s.Addr().String()

	slowDone := make(chan error, 1)
	go func() {
		resp, err := newClient(5*time.Second).Post(base+"/slow", "application/json", strings.NewReader("q"))
		if err == nil {
			resp.Body.Close()
		}
		slowDone <- err
	}()
	<-handler.entered

	_, err = newClient(200 * time.Millisecond).Get(base + "/status")
	assert.Error(t, err, "status served while the only worker was busy")

	close(handler.release)
	require.NoError(t, <-slowDone)

	getStatus(t, base)
}

func TestIdleConnectionsDoNotHoldWorkers(t *testing.T) {
	s, err := NewWebServer(Config{
		Addr:        "127.0.0.1:0",
		Workers:     2,
		ReadTimeout: time.Minute,
		IdleTimeout: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Shutdown(context.Background())

	for i := 0; i < 8; i++ {
		conn, err := net.Dial("tcp", s.Addr().String())
		require.NoError(t, err)
		defer conn.Close()
	}

	getStatus(t, "http://"+s.Addr().String())
}

func TestMaxConnectionsNeverBelowWorkers(t *testing.T) {
	s, err := NewWebServer(Config{Workers: 16, MaxConnections: 4}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1024, s.cfg.MaxConnections)

	s, err = NewWebServer(Config{Workers: 4, MaxConnections: 32}, nil)
	require.NoError(t, err)
	assert.Equal(t, 32, s.cfg.MaxConnections)
}
