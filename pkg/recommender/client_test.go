package recommender

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuggestMembersParsesItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/recommendations/members", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-API-Key"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "conv-1", body["conversationId"])
		_, _ = w.Write([]byte(`{"items":[{"id":"u1","score":0.91},{"id":"","score":0.5},{"id":"u2","score":0.4}]}`))
	}))
	defer srv.Close()

	client := New(Config{Enabled: true, BaseURL: srv.URL, APIKey: "key"}, srv.Client())
	got, err := client.SuggestMembers(context.Background(), "conv-1", 5)
	require.NoError(t, err)
	assert.Equal(t, []Candidate{{ID: "u1", Score: 0.91}, {ID: "u2", Score: 0.4}}, got)
}

func TestSuggestConversationsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"index warming"}`))
	}))
	defer srv.Close()

	client := New(Config{Enabled: true, BaseURL: srv.URL}, srv.Client())
	_, err := client.SuggestConversations(context.Background(), "u1", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index warming")
}

func TestDisabledClient(t *testing.T) {
	client := New(Config{}, nil)
	assert.False(t, client.Enabled())
	_, err := client.SuggestMembers(context.Background(), "c", 1)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestParseCandidatesWithoutItems(t *testing.T) {
	got, err := parseCandidates([]byte(`{"other":1}`))
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = parseCandidates([]byte(`not json`))
	assert.Error(t, err)
}
