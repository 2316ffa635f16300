package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/zilstream/pancake-indexer/internal/entity"
	"github.com/zilstream/pancake-indexer/internal/modules/pancake"
	"github.com/zilstream/pancake-indexer/internal/processor"
)

// EntityReader is the read side of the entity store.
type EntityReader interface {
	entity.Store
	Counts(ctx context.Context) (map[entity.Collection]int64, error)
	History(ctx context.Context, collection entity.Collection, pair string, limit, offset int) ([]json.RawMessage, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type ChainHead interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

type StatusSource interface {
	Status() processor.Status
}

// historyCollections maps the path segment under /pairs/{address}/ to the
// history collection it lists.
var historyCollections = map[string]entity.Collection{
	"swaps": entity.CollectionSwap,
	"syncs": entity.CollectionSync,
	"mints": entity.CollectionMint,
	"burns": entity.CollectionBurn,
}

type Server struct {
	mux     *http.ServeMux
	store   EntityReader
	db      Pinger
	chain   ChainHead
	indexer StatusSource
	logger  zerolog.Logger
}

func NewServer(store EntityReader, db Pinger, chain ChainHead, indexer StatusSource, logger zerolog.Logger) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		store:   store,
		db:      db,
		chain:   chain,
		indexer: indexer,
		logger:  logger.With().Str("component", "api").Logger(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.logMiddleware(s.mux)
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.logger.Info().Str("addr", addr).Msg("Starting API server")
	server := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info().Msg("Shutting down API server...")
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ready", s.handleReady)
	s.mux.HandleFunc("GET /live", s.handleLive)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /summary", s.handleSummary)
	s.mux.HandleFunc("GET /tokens/{address}", s.handleToken)
	s.mux.HandleFunc("GET /pairs/{address}", s.handlePair)
	s.mux.HandleFunc("GET /pairs/{address}/{kind}", s.handlePairHistory)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("latency", time.Since(start)).
			Msg("http")
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.indexer == nil {
		writeError(w, http.StatusServiceUnavailable, "indexer not running")
		return
	}
	writeData(w, s.indexer.Status())
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	summary, err := entity.GetEventsSummary(ctx, s.store, pancake.EventsSummaryID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	counts, err := s.store.Counts(ctx)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeData(w, summaryResponse{Summary: summary, Records: counts})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	token, err := entity.GetToken(r.Context(), s.store, strings.ToLower(r.PathValue("address")))
	if err != nil {
		s.internalError(w, err)
		return
	}
	if token == nil {
		writeError(w, http.StatusNotFound, "token not found")
		return
	}
	writeData(w, token)
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	pair, err := entity.GetPair(r.Context(), s.store, strings.ToLower(r.PathValue("address")))
	if err != nil {
		s.internalError(w, err)
		return
	}
	if pair == nil {
		writeError(w, http.StatusNotFound, "pair not found")
		return
	}
	writeData(w, pair)
}

func (s *Server) handlePairHistory(w http.ResponseWriter, r *http.Request) {
	collection, ok := historyCollections[r.PathValue("kind")]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown history kind")
		return
	}
	q, err := parseHistoryQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := s.store.History(r.Context(), collection, strings.ToLower(r.PathValue("address")), q.limit(), q.offset())
	if err != nil {
		s.internalError(w, err)
		return
	}
	items, pg := q.trim(items)
	writePage(w, items, pg)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.logger.Error().Err(err).Msg("Request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}
