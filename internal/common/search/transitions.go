// Package search keeps an Elasticsearch audit trail of stage transitions.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
)

// Transition is one committed stage transition.
type Transition struct {
	ID                string                 `json:"id"`
	ApplicationID     string                 `json:"applicationId"`
	ProcessInstanceID string                 `json:"processInstanceId,omitempty"`
	Stage             string                 `json:"stage"`
	From              string                 `json:"from"`
	To                string                 `json:"to"`
	Trail             []string               `json:"trail"`
	Reentry           bool                   `json:"reentry"`
	TaskID            string                 `json:"taskId,omitempty"`
	Variables         map[string]interface{} `json:"variables,omitempty"`
	OccurredAt        time.Time              `json:"occurredAt"`
}

// Recorder stores transitions for later inspection.
type Recorder interface {
	Record(ctx context.Context, t Transition) error
	History(ctx context.Context, applicationID string) ([]Transition, error)
}

// NopRecorder is used when no search cluster is configured.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Transition) error { return nil }

func (NopRecorder) History(context.Context, string) ([]Transition, error) { return []Transition{}, nil }

type TransitionIndex struct {
	client *elasticsearch.Client
	index  string
}

func NewTransitionIndex(client *elasticsearch.Client, index string) *TransitionIndex {
	return &TransitionIndex{client: client, index: index}
}

// Record indexes t. The document id is generated when empty.
func (x *TransitionIndex) Record(ctx context.Context, t Transition) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode transition: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      x.index,
		DocumentID: t.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, x.client)
	if err != nil {
		return fmt.Errorf("index transition: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index transition: %s", readError(res))
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source Transition `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// History returns up to 100 transitions of one application, oldest first.
func (x *TransitionIndex) History(ctx context.Context, applicationID string) ([]Transition, error) {
	query := map[string]interface{}{
		"size": 100,
		"query": map[string]interface{}{
			"term": map[string]interface{}{"applicationId.keyword": applicationID},
		},
		"sort": []interface{}{
			map[string]interface{}{"occurredAt": map[string]interface{}{"order": "asc"}},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	res, err := x.client.Search(
		x.client.Search.WithContext(ctx),
		x.client.Search.WithIndex(x.index),
		x.client.Search.WithBody(bytes.NewReader(body)),
		x.client.Search.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return nil, fmt.Errorf("search transitions: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return []Transition{}, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("search transitions: %s", readError(res))
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	out := make([]Transition, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}

func readError(res *esapi.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return strings.TrimSpace(res.Status() + " " + string(raw))
}
