package api

import (
	"context"
	"net/http"
	"time"

	"github.com/zilstream/pancake-indexer/internal/processor"
)

// Lag in blocks above which the indexer reports itself degraded.
const degradedLag = 100

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  DatabaseStatus    `json:"database"`
	RPC       RPCStatus         `json:"rpc"`
	Sync      *processor.Status `json:"sync,omitempty"`
}

type DatabaseStatus struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

type RPCStatus struct {
	Connected   bool   `json:"connected"`
	LatestBlock uint64 `json:"latest_block"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := s.healthStatus(ctx)

	httpStatus := http.StatusOK
	if status.Status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, status)
}

func (s *Server) healthStatus(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Timestamp: time.Now().UTC(),
		Status:    "healthy",
		Database:  s.checkDatabase(ctx),
		RPC:       s.checkRPC(ctx),
	}
	if !status.Database.Connected || !status.RPC.Connected {
		status.Status = "unhealthy"
	}

	if s.indexer != nil {
		sync := s.indexer.Status()
		status.Sync = &sync
		if status.Status == "healthy" && sync.Lag > degradedLag {
			status.Status = "degraded"
		}
	}
	return status
}

func (s *Server) checkDatabase(ctx context.Context) DatabaseStatus {
	if s.db == nil {
		return DatabaseStatus{Error: "not configured"}
	}
	if err := s.db.Ping(ctx); err != nil {
		return DatabaseStatus{Error: err.Error()}
	}
	return DatabaseStatus{Connected: true}
}

func (s *Server) checkRPC(ctx context.Context) RPCStatus {
	if s.chain == nil {
		return RPCStatus{Error: "not configured"}
	}
	latest, err := s.chain.LatestBlockNumber(ctx)
	if err != nil {
		return RPCStatus{Error: err.Error()}
	}
	return RPCStatus{Connected: true, LatestBlock: latest}
}

// handleReady only needs the database: events can still be served while the
// RPC node is unreachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if s.checkDatabase(ctx).Connected {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}
