package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCluster struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
	status   int
	reply    string
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, r)
	f.bodies = append(f.bodies, string(raw))
	f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	if f.status != 0 {
		w.WriteHeader(f.status)
	}
	_, _ = w.Write([]byte(f.reply))
}

func newTestIndex(t *testing.T, cluster *fakeCluster) *TransitionIndex {
	t.Helper()
	server := httptest.NewServer(cluster)
	t.Cleanup(server.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{server.URL}})
	require.NoError(t, err)
	return NewTransitionIndex(client, "loan-transitions")
}

func TestRecord_IndexesDocument(t *testing.T) {
	cluster := &fakeCluster{status: http.StatusCreated, reply: `{"result":"created"}`}
	idx := newTestIndex(t, cluster)

	err := idx.Record(context.Background(), Transition{
		ID:            "tr-1",
		ApplicationID: "app-1",
		Stage:         "risk-assessment",
		From:          "CREDIT_APPROVED",
		To:            "RISK_APPROVED",
		Trail:         []string{"RISK_ASSESSMENT_IN_PROGRESS", "RISK_APPROVED"},
		OccurredAt:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.Len(t, cluster.requests, 1)
	req := cluster.requests[0]
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/loan-transitions/_doc/tr-1", req.URL.Path)

	var doc Transition
	require.NoError(t, json.Unmarshal([]byte(cluster.bodies[0]), &doc))
	assert.Equal(t, "app-1", doc.ApplicationID)
	assert.Equal(t, []string{"RISK_ASSESSMENT_IN_PROGRESS", "RISK_APPROVED"}, doc.Trail)
}

func TestRecord_GeneratesID(t *testing.T) {
	cluster := &fakeCluster{status: http.StatusCreated, reply: `{"result":"created"}`}
	idx := newTestIndex(t, cluster)

	require.NoError(t, idx.Record(context.Background(), Transition{ApplicationID: "app-1"}))
	assert.True(t, strings.HasPrefix(cluster.requests[0].URL.Path, "/loan-transitions/_doc/"))
	assert.Greater(t, len(cluster.requests[0].URL.Path), len("/loan-transitions/_doc/"))
}

func TestRecord_ClusterError(t *testing.T) {
	cluster := &fakeCluster{status: http.StatusBadRequest, reply: `{"error":{"type":"mapper_parsing_exception"}}`}
	idx := newTestIndex(t, cluster)

	err := idx.Record(context.Background(), Transition{ID: "tr-1", ApplicationID: "app-1"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
}

func TestHistory(t *testing.T) {
	cluster := &fakeCluster{reply: `{
		"hits": {"hits": [
			{"_source": {"id": "a", "applicationId": "app-1", "stage": "review", "to": "UNDER_REVIEW"}},
			{"_source": {"id": "b", "applicationId": "app-1", "stage": "credit-check", "to": "CREDIT_APPROVED"}}
		]}
	}`}
	idx := newTestIndex(t, cluster)

	history, err := idx.History(context.Background(), "app-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "review", history[0].Stage)
	assert.Equal(t, "CREDIT_APPROVED", history[1].To)

	assert.Equal(t, "/loan-transitions/_search", cluster.requests[0].URL.Path)
	assert.Contains(t, cluster.bodies[0], `"applicationId.keyword":"app-1"`)
}

func TestHistory_MissingIndex(t *testing.T) {
	cluster := &fakeCluster{status: http.StatusNotFound, reply: `{"error":{"type":"index_not_found_exception"}}`}
	idx := newTestIndex(t, cluster)

	history, err := idx.History(context.Background(), "app-1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = NopRecorder{}
	assert.NoError(t, r.Record(context.Background(), Transition{}))
	h, err := r.History(context.Background(), "app-1")
	assert.NoError(t, err)
	assert.Empty(t, h)
}
