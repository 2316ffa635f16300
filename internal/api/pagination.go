package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

const (
	defaultPerPage = 25
	maxPerPage     = 100
)

type Pagination struct {
	Page    int  `json:"page"`
	PerPage int  `json:"per_page"`
	HasNext bool `json:"has_next"`
}

// historyQuery is the page of a pair's history a request asks for.
type historyQuery struct {
	page    int
	perPage int
}

func parseHistoryQuery(r *http.Request) (historyQuery, error) {
	q := historyQuery{page: 1, perPage: defaultPerPage}
	var err error
	if v := r.URL.Query().Get("page"); v != "" {
		if q.page, err = strconv.Atoi(v); err != nil || q.page < 1 {
			return q, fmt.Errorf("invalid page %q", v)
		}
	}
	if v := r.URL.Query().Get("per_page"); v != "" {
		if q.perPage, err = strconv.Atoi(v); err != nil || q.perPage < 1 {
			return q, fmt.Errorf("invalid per_page %q", v)
		}
		q.perPage = min(q.perPage, maxPerPage)
	}
	return q, nil
}

// limit asks the store for one row past the page so has_next needs no count.
func (q historyQuery) limit() int  { return q.perPage + 1 }
func (q historyQuery) offset() int { return (q.page - 1) * q.perPage }

// trim cuts the lookahead row off a store result.
func (q historyQuery) trim(items []json.RawMessage) ([]json.RawMessage, Pagination) {
	pg := Pagination{Page: q.page, PerPage: q.perPage}
	if len(items) > q.perPage {
		items = items[:q.perPage]
		pg.HasNext = true
	}
	return items, pg
}
