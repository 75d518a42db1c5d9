package search

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ravi-kumar-24/distributed-search-frontend/internal/cluster"
	"github.com/ravi-kumar-24/distributed-search-frontend/internal/model"
	"github.com/ravi-kumar-24/distributed-search-frontend/internal/rpc"
)

const testLocation = "documents-bucket"

type fakeDirectory struct {
	addr string
	err  error
}

func (d fakeDirectory) RandomAddress(ctx context.Context) (string, error) {
	return d.addr, d.err
}

type fakeSender struct {
	mu       sync.Mutex
	reply    []byte
	err      error
	block    bool
	addrs    []string
	requests []model.ClusterSearchRequest
}

func (s *fakeSender) Send(ctx context.Context, address string, payload []byte) *rpc.Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	var req model.ClusterSearchRequest
	_ = req.Unmarshal(payload)
	s.addrs = append(s.addrs, address)
	s.requests = append(s.requests, req)

	call := rpc.NewCall()
	if !s.block {
		call.Complete(s.reply, s.err)
	}
	return call
}

func replyWith(docs ...model.DocumentStats) *fakeSender {
	return &fakeSender{reply: model.ClusterSearchResponse{RelevantDocuments: docs}.Marshal()}
}

func newTestHandler(dir CoordinatorDirectory, sender Sender) *UserSearchHandler {
	return NewUserSearchHandler(dir, sender, Config{DocumentsLocation: testLocation}, zap.NewNop())
}

func search(t *testing.T, h *UserSearchHandler, body string) model.FrontendSearchResponse {
	t.Helper()
	out := h.HandleRequest(context.Background(), []byte(body))

	var resp model.FrontendSearchResponse
	require.NoError(t, json.Unmarshal(out, &resp), "body: %s", out)
	return resp
}

func TestHandleRequestScenario(t *testing.T) {
	sender := replyWith(
		model.DocumentStats{DocumentName: "war_and_peace.pdf", Score: 80},
		model.DocumentStats{DocumentName: "notes.txt", Score: 60},
		model.DocumentStats{DocumentName: "draft.doc", Score: 10},
	)
	h := newTestHandler(fakeDirectory{addr: "http://coordinator/task"}, sender)

	resp := search(t, h, `{"search_query":"cats","max_number_of_results":2,"min_score":50}`)

	assert.Equal(t, testLocation, resp.DocumentsLocation)
	assert.Equal(t, []model.SearchResultInfo{
		{Title: "war_and_peace", Extension: "pdf", Score: 100},
		{Title: "notes", Extension: "txt", Score: 75},
	}, resp.SearchResults)
	assert.Equal(t, []string{"http://coordinator/task"}, sender.addrs)
	assert.Equal(t, []model.ClusterSearchRequest{{SearchQuery: "cats"}}, sender.requests)
}

func TestHandleRequestCoordinatorUnavailable(t *testing.T) {
	sender := replyWith()
	h := newTestHandler(fakeDirectory{err: cluster.ErrNoCoordinator}, sender)

	out := h.HandleRequest(context.Background(), []byte(`{"search_query":"cats","max_number_of_results":5,"min_score":0}`))

	assert.JSONEq(t, `{"search_results":[],"documents_location":"documents-bucket"}`, string(out))
	assert.Empty(t, sender.addrs)
}

func TestHandleRequestDirectoryError(t *testing.T) {
	h := newTestHandler(fakeDirectory{err: errors.New("redis down")}, replyWith())

	resp := search(t, h, `{"search_query":"cats","max_number_of_results":5,"min_score":0}`)
	assert.Empty(t, resp.SearchResults)
}

func TestHandleRequestRPCFailure(t *testing.T) {
	h := newTestHandler(fakeDirectory{addr: "http://c/task"}, &fakeSender{err: errors.New("connection reset")})

	resp := search(t, h, `{"search_query":"cats","max_number_of_results":5,"min_score":0}`)
	assert.NotNil(t, resp.SearchResults)
	assert.Empty(t, resp.SearchResults)
	assert.Equal(t, testLocation, resp.DocumentsLocation)
}

func TestHandleRequestMalformedReply(t *testing.T) {
	h := newTestHandler(fakeDirectory{addr: "http://c/task"}, &fakeSender{reply: []byte{0x0a, 0xff}})

	resp := search(t, h, `{"search_query":"cats","max_number_of_results":5,"min_score":0}`)
	assert.Empty(t, resp.SearchResults)
}

func TestHandleRequestRPCTimeout(t *testing.T) {
	h := NewUserSearchHandler(
		fakeDirectory{addr: "http://c/task"},
		&fakeSender{block: true},
		Config{DocumentsLocation: testLocation, RPCTimeout: 20 * time.Millisecond},
		zap.NewNop(),
	)

	resp := search(t, h, `{"search_query":"cats","max_number_of_results":5,"min_score":0}`)
	assert.Empty(t, resp.SearchResults)
}

func TestHandleRequestMalformedRequest(t *testing.T) {
	sender := replyWith()
	h := newTestHandler(fakeDirectory{addr: "http://c/task"}, sender)

	for _, body := range []string{``, `not json`, `{"search_query":`, `{"max_number_of_results":"many"}`} {
		out := h.HandleRequest(context.Background(), []byte(body))
		assert.Empty(t, out, "body %q", body)
		assert.NotNil(t, out)
	}
	assert.Empty(t, sender.addrs)
}

func TestHandleRequestIgnoresUnknownFields(t *testing.T) {
	h := newTestHandler(fakeDirectory{addr: "http://c/task"}, replyWith(model.DocumentStats{DocumentName: "a.txt", Score: 1}))

	resp := search(t, h, `{"search_query":"cats","max_number_of_results":1,"min_score":0,"locale":"en"}`)
	assert.Len(t, resp.SearchResults, 1)
}

func TestHandleRequestFractionalResultCount(t *testing.T) {
	h := newTestHandler(fakeDirectory{addr: "http://c/task"}, replyWith(
		model.DocumentStats{DocumentName: "a.txt", Score: 4},
		model.DocumentStats{DocumentName: "b.txt", Score: 3},
		model.DocumentStats{DocumentName: "c.txt", Score: 2},
	))

	resp := search(t, h, `{"search_query":"cats","max_number_of_results":2.0,"min_score":0}`)
	require.Len(t, resp.SearchResults, 2)
	assert.Equal(t, "a", resp.SearchResults[0].Title)
	assert.Equal(t, "b", resp.SearchResults[1].Title)
}

func TestHandleRequestEndpoint(t *testing.T) {
	assert.Equal(t, DefaultEndpoint, newTestHandler(nil, nil).Endpoint())

	h := NewUserSearchHandler(nil, nil, Config{Endpoint: "/find"}, nil)
	assert.Equal(t, "/find", h.Endpoint())
}

func TestShapeResultsAtMostN(t *testing.T) {
	docs := []model.DocumentStats{
		{DocumentName: "a.txt", Score: 9},
		{DocumentName: "b.txt", Score: 8},
		{DocumentName: "c.txt", Score: 7},
		{DocumentName: "d.txt", Score: 6},
	}

	for n := 0; n <= 5; n++ {
		got := shapeResults(docs, n, 0)
		assert.Len(t, got, min(n, len(docs)))
	}
	assert.Empty(t, shapeResults(docs, -1, 0))
}

func TestShapeResultsStopsAtFirstBelowThreshold(t *testing.T) {
	docs := []model.DocumentStats{
		{DocumentName: "a.txt", Score: 100},
		{DocumentName: "b.txt", Score: 40},
		{DocumentName: "c.txt", Score: 90},
	}

	got := shapeResults(docs, 10, 50)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Title)
}

func TestShapeResultsThresholdIsInclusive(t *testing.T) {
	docs := []model.DocumentStats{
		{DocumentName: "a.txt", Score: 4},
		{DocumentName: "b.txt", Score: 2},
	}

	got := shapeResults(docs, 10, 50)
	require.Len(t, got, 2)
	assert.Equal(t, 50, got[1].Score)
}

func TestShapeResultsZeroMaxScore(t *testing.T) {
	docs := []model.DocumentStats{
		{DocumentName: "a.txt", Score: 0},
		{DocumentName: "b.txt", Score: 0},
	}

	got := shapeResults(docs, 10, 0)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Score)

	assert.Empty(t, shapeResults(docs, 10, 1))
}

func TestShapeResultsEmpty(t *testing.T) {
	got := shapeResults(nil, 10, 0)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestNormalizeScore(t *testing.T) {
	assert.Equal(t, 100, normalizeScore(80, 80))
	assert.Equal(t, 75, normalizeScore(60, 80))
	assert.Equal(t, 12, normalizeScore(10, 80))
	assert.Equal(t, 33, normalizeScore(1, 3))
	assert.Equal(t, 0, normalizeScore(-5, 80))
}

func TestSplitDocumentName(t *testing.T) {
	tests := []struct {
		name, title, extension string
	}{
		{"war_and_peace.pdf", "war_and_peace", "pdf"},
		{"README", "README", ""},
		{"archive.tar.gz", "archive.tar.gz", ""},
		{".bashrc", "", "bashrc"},
		{"trailing.", "trailing", ""},
		{"", "", ""},
	}
	for _, tc := range tests {
		title, extension := splitDocumentName(tc.name)
		assert.Equal(t, tc.title, title, tc.name)
		assert.Equal(t, tc.extension, extension, tc.name)
	}
}

func TestHandleRequestConcurrent(t *testing.T) {
	h := newTestHandler(fakeDirectory{addr: "http://c/task"}, replyWith(
		model.DocumentStats{DocumentName: "a.txt", Score: 2},
		model.DocumentStats{DocumentName: "b.txt", Score: 1},
	))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := h.HandleRequest(context.Background(), []byte(`{"search_query":"q","max_number_of_results":2,"min_score":0}`))
			assert.JSONEq(t, `{"search_results":[{"title":"a","extension":"txt","score":100},{"title":"b","extension":"txt","score":50}],"documents_location":"documents-bucket"}`, string(out))
		}()
	}
	wg.Wait()
}
