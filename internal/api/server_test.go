package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zilstream/pancake-indexer/internal/entity"
	"github.com/zilstream/pancake-indexer/internal/modules/pancake"
	"github.com/zilstream/pancake-indexer/internal/processor"
)

type fakeStore struct {
	*entity.MemoryStore
	history map[entity.Collection][]json.RawMessage
}

func (f *fakeStore) Counts(ctx context.Context) (map[entity.Collection]int64, error) {
	return map[entity.Collection]int64{
		entity.CollectionPair: int64(f.Len(entity.CollectionPair)),
	}, nil
}

func (f *fakeStore) History(ctx context.Context, c entity.Collection, pair string, limit, offset int) ([]json.RawMessage, error) {
	items := f.history[c]
	if offset >= len(items) {
		return nil, nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

type fakeHead struct {
	latest uint64
	err    error
}

func (h fakeHead) LatestBlockNumber(ctx context.Context) (uint64, error) { return h.latest, h.err }

type fakeStatus processor.Status

func (s fakeStatus) Status() processor.Status { return processor.Status(s) }

func newTestServer(t *testing.T, db Pinger, head ChainHead, status StatusSource) (*Server, *fakeStore) {
	t.Helper()
	ctx := context.Background()
	store := &fakeStore{MemoryStore: entity.NewMemoryStore(), history: map[entity.Collection][]json.RawMessage{}}

	require.NoError(t, store.Set(ctx, entity.CollectionPair, &entity.Pair{ID: "0xpair", TxCount: "2"}))
	require.NoError(t, store.Set(ctx, entity.CollectionToken, &entity.Token{ID: "0xtoken", Symbol: "CAKE"}))
	require.NoError(t, store.Set(ctx, entity.CollectionEventsSummary, &entity.EventsSummary{
		ID:                   pancake.EventsSummaryID,
		PancakePairSwapCount: "5",
	}))
	for i := 0; i < 3; i++ {
		store.history[entity.CollectionSwap] = append(store.history[entity.CollectionSwap],
			json.RawMessage(fmt.Sprintf(`{"id":"0xtx-%d"}`, i)))
	}

	return NewServer(store, db, head, status, zerolog.Nop()), store
}

func get(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestEntityRoutes(t *testing.T) {
	s, _ := newTestServer(t, fakePinger{}, fakeHead{latest: 10}, nil)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"pair", "/pairs/0xPAIR", http.StatusOK},
		{"missing pair", "/pairs/0xnope", http.StatusNotFound},
		{"token", "/tokens/0xtoken", http.StatusOK},
		{"missing token", "/tokens/0xnope", http.StatusNotFound},
		{"unknown history kind", "/pairs/0xpair/transfers", http.StatusNotFound},
		{"summary", "/summary", http.StatusOK},
		{"status without indexer", "/status", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := get(t, s, tt.path)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	t.Run("pair body", func(t *testing.T) {
		_, body := get(t, s, "/pairs/0xpair")
		data := body["data"].(map[string]any)
		assert.Equal(t, "2", data["txCount"])
	})

	t.Run("summary body", func(t *testing.T) {
		_, body := get(t, s, "/summary")
		data := body["data"].(map[string]any)
		summary := data["summary"].(map[string]any)
		assert.Equal(t, "5", summary["pancakePair_SwapCount"])
		records := data["records"].(map[string]any)
		assert.Equal(t, float64(1), records["Pair"])
	})
}

func TestPairHistory(t *testing.T) {
	s, _ := newTestServer(t, fakePinger{}, fakeHead{}, nil)

	_, body := get(t, s, "/pairs/0xpair/swaps?per_page=2")
	items := body["data"].([]any)
	require.Len(t, items, 2)
	pg := body["pagination"].(map[string]any)
	assert.Equal(t, true, pg["has_next"])

	_, body = get(t, s, "/pairs/0xpair/swaps?per_page=2&page=2")
	items = body["data"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "0xtx-2", items[0].(map[string]any)["id"])
	pg = body["pagination"].(map[string]any)
	assert.Equal(t, false, pg["has_next"])
}

func TestResponseEnvelope(t *testing.T) {
	s, _ := newTestServer(t, fakePinger{}, fakeHead{}, nil)

	t.Run("errors carry message and status", func(t *testing.T) {
		rec, body := get(t, s, "/tokens/0xnope")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "token not found", body["error"])
		assert.Equal(t, float64(http.StatusNotFound), body["status"])
		assert.NotContains(t, body, "data")
	})

	t.Run("single entity has no pagination", func(t *testing.T) {
		_, body := get(t, s, "/tokens/0xtoken")
		assert.Contains(t, body, "data")
		assert.NotContains(t, body, "pagination")
	})

	t.Run("empty history is an empty list", func(t *testing.T) {
		rec, body := get(t, s, "/pairs/0xpair/burns")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []any{}, body["data"])
		pg := body["pagination"].(map[string]any)
		assert.Equal(t, float64(1), pg["page"])
		assert.Equal(t, float64(defaultPerPage), pg["per_page"])
		assert.Equal(t, false, pg["has_next"])
	})

	t.Run("per_page is capped", func(t *testing.T) {
		_, body := get(t, s, "/pairs/0xpair/swaps?per_page=1000")
		pg := body["pagination"].(map[string]any)
		assert.Equal(t, float64(maxPerPage), pg["per_page"])
	})

	for _, path := range []string{
		"/pairs/0xpair/swaps?page=0",
		"/pairs/0xpair/swaps?page=abc",
		"/pairs/0xpair/swaps?per_page=-1",
	} {
		t.Run("rejects "+path, func(t *testing.T) {
			rec, body := get(t, s, path)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		db         Pinger
		head       ChainHead
		status     StatusSource
		wantCode   int
		wantStatus string
	}{
		{"healthy", fakePinger{}, fakeHead{latest: 100}, fakeStatus{Lag: 3}, http.StatusOK, "healthy"},
		{"degraded when lagging", fakePinger{}, fakeHead{latest: 100}, fakeStatus{Lag: 500}, http.StatusOK, "degraded"},
		{"database down", fakePinger{err: errors.New("refused")}, fakeHead{}, nil, http.StatusServiceUnavailable, "unhealthy"},
		{"rpc down", fakePinger{}, fakeHead{err: errors.New("timeout")}, nil, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, tt.db, tt.head, tt.status)
			rec, body := get(t, s, "/health")
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantStatus, body["status"])
		})
	}
}

func TestLivenessAndReadiness(t *testing.T) {
	s, _ := newTestServer(t, fakePinger{}, fakeHead{}, nil)
	rec, _ := get(t, s, "/live")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = get(t, s, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)

	down, _ := newTestServer(t, fakePinger{err: errors.New("refused")}, fakeHead{}, nil)
	rec, _ = get(t, down, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, _ = get(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}
