package api

import (
	"encoding/json"
	"net/http"

	"github.com/zilstream/pancake-indexer/internal/entity"
)

// Response wraps every read endpoint except /health, which reports its own
// status document.
type Response[T any] struct {
	Data       T           `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

type summaryResponse struct {
	Summary *entity.EventsSummary       `json:"summary"`
	Records map[entity.Collection]int64 `json:"records"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData[T any](w http.ResponseWriter, data T) {
	writeJSON(w, http.StatusOK, Response[T]{Data: data})
}

// writePage sends one page of history records. A nil page is sent as an
// empty list so clients can always range over data.
func writePage(w http.ResponseWriter, items []json.RawMessage, pg Pagination) {
	if items == nil {
		items = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, Response[[]json.RawMessage]{Data: items, Pagination: &pg})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Status: status})
}
