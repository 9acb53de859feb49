package nav

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildingServer serves the fixture after failing with the given statuses
func buildingServer(t *testing.T, failures ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	body, err := os.ReadFile(filepath.Join("testdata", "building.json"))
	require.NoError(t, err)

	calls := new(atomic.Int32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		if n <= len(failures) {
			w.WriteHeader(failures[n-1])
			return
		}
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func testClient(srv *httptest.Server, opts ...ClientOption) *BuildingClient {
	opts = append([]ClientOption{WithHTTPClient(srv.Client()), WithRetryDelay(time.Millisecond)}, opts...)
	return NewBuildingClient(srv.URL, opts...)
}

func TestBuildingClient_Fetch(t *testing.T) {
	srv, calls := buildingServer(t)

	b, err := testClient(srv).Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, b.Zones(), 6)
	assert.EqualValues(t, 1, calls.Load())
}

func TestBuildingClient_RetryPolicy(t *testing.T) {
	tests := []struct {
		name      string
		failures  []int
		attempts  int
		wantErr   string
		wantCalls int32
	}{
		{"server errors are retried", []int{503, 500}, 3, "", 3},
		{"rate limit is retried", []int{429}, 2, "", 2},
		{"not found fails at once", []int{404}, 3, "status 404", 1},
		{"attempts run out", []int{502, 502, 502}, 2, "all 2 attempts failed", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := buildingServer(t, tt.failures...)

			b, err := testClient(srv, WithAttempts(tt.attempts)).Fetch(context.Background())
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, b)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, b)
			}
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestBuildingClient_InvalidDocumentNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := testClient(srv).Fetch(context.Background())
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestBuildingClient_EmptyURL(t *testing.T) {
	_, err := FetchBuildingFromURL(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "URL is empty")
}

func TestBuildingClient_ContextCancelled(t *testing.T) {
	srv, _ := buildingServer(t, 500, 500, 500)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testClient(srv, WithRetryDelay(time.Hour)).Fetch(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
