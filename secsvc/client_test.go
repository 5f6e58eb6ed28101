package secsvc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumsec/warden/retry"
	"github.com/stratumsec/warden/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(server.URL, StaticToken("test-token"))
	client.policy = retry.Policy{MaxAttempts: 3, Backoff: time.Millisecond, Classifier: retryableHTTP}
	return client
}

func TestListSources(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/sources", r.URL.Path)
		assert.Equal(t, "123456789012", r.URL.Query().Get("account_id"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"sources": []types.Environment{
				{ID: "env-1", Name: "prod", AccountID: "123456789012", Regions: []string{"us-east-1"}},
			},
		})
	})

	envs, err := client.ListSources(context.Background(), "123456789012")
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, "env-1", envs[0].ID)
}

func TestGetScope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/environments/env-1/assets", r.URL.Path)
		assert.Equal(t, "us-east-1", r.URL.Query().Get("region"))

		_, _ = w.Write([]byte(`{"assets":[{"vpc_id":"vpc-a"},{"vpc_id":"vpc-b"},{"vpc_id":""}]}`))
	})

	scope, err := client.GetScope(context.Background(), "env-1", "us-east-1")
	require.NoError(t, err)
	assert.True(t, scope.Contains("vpc-a"))
	assert.True(t, scope.Contains("vpc-b"))
	assert.False(t, scope.Contains("vpc-c"))
	assert.Len(t, scope, 2)
}

func TestGetScopeHardFailureOnNon200(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := client.GetScope(context.Background(), "env-1", "us-east-1")
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.Code)
}

func TestGetJSONRetriesOn429(t *testing.T) {
	var calls atomic.Int64
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"sources":[]}`))
	})

	_, err := client.ListSources(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), calls.Load())
}

func TestPublishFindingMultipart(t *testing.T) {
	var gotMeta types.FindingMetadata
	var gotResult []types.Vulnerability

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v2/findings", r.URL.Path)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("metadata")), &gotMeta))
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("result")), &gotResult))

		w.WriteHeader(http.StatusCreated)
	})

	meta := types.FindingMetadata{
		EnvironmentID: "env-1",
		ResourceID:    "sg-123",
		CheckName:     "portCompliance",
		Scope:         types.ScopeIn,
	}
	status, err := client.postFinding(context.Background(), meta, []types.Vulnerability{
		{ID: "v-1", Title: "open ports", Score: 10.0},
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "sg-123", gotMeta.ResourceID)
	require.Len(t, gotResult, 1)
	assert.Equal(t, "v-1", gotResult[0].ID)
}

func TestPublishFindingClearSendsEmptyList(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.JSONEq(t, "[]", r.FormValue("result"))
		w.WriteHeader(http.StatusCreated)
	})

	status, err := client.postFinding(context.Background(), types.FindingMetadata{ResourceID: "sg-1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
}

func TestPublisherSwallowsFailures(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	// Must not panic or propagate the failure.
	NewPublisher(client).Publish(context.Background(), types.FindingMetadata{ResourceID: "sg-1"}, nil)
}
