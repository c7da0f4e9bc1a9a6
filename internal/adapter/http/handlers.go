package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/couchcryptid/seismic-feed-service/internal/config"
	"github.com/couchcryptid/seismic-feed-service/internal/domain"
	"github.com/couchcryptid/seismic-feed-service/internal/scheduler"
	"github.com/couchcryptid/seismic-feed-service/internal/store"
)

const maxLimit = 1000

type listResponse struct {
	Count  int                  `json:"count"`
	Quakes []domain.StoredQuake `json:"quakes"`
}

type refreshResponse struct {
	domain.IngestionResult
	RecordErrors []string `json:"record_errors"`
}

type preferencesBody struct {
	AutoUpdate          bool    `json:"auto_update"`
	PollIntervalMinutes int     `json:"poll_interval_minutes"`
	MinimumMagnitude    float64 `json:"minimum_magnitude"`
	State               string  `json:"state,omitempty"`
}

// handleListQuakes applies the preference threshold unless min_magnitude is given.
func (s *Server) handleListQuakes(w http.ResponseWriter, r *http.Request) {
	f, order, err := s.listQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	quakes, err := s.deps.Store.Query(r.Context(), f, order)
	if err != nil {
		s.logger.Error("list quakes failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Count: len(quakes), Quakes: quakes})
}

func (s *Server) handleGetQuake(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	q, err := s.deps.Store.Get(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("get quake failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleDeleteQuake(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	n, err := s.deps.Store.DeleteByID(r.Context(), id)
	if err != nil {
		s.logger.Error("delete quake failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	if n == 0 {
		writeError(w, http.StatusNotFound, domain.ErrNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// handleDeleteQuakes deletes by filter. The preference threshold is never
// implied here, so an empty query is rejected rather than wiping the store.
func (s *Server) handleDeleteQuakes(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := s.deps.Store.Delete(r.Context(), f)
	if errors.Is(err, domain.ErrEmptyFilter) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("delete quakes failed", "error", err)
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"), store.DefaultSuggestLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	suggestions, err := s.deps.Store.Suggest(r.Context(), q.Get("q"), limit)
	if err != nil {
		s.logger.Error("suggest failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, suggestions)
}

// handleRefresh runs the pipeline synchronously. The run outlives a client
// that disconnects mid-request.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Scheduler.Trigger(context.WithoutCancel(r.Context()))

	var (
		fetchErr *domain.FetchError
		parseErr *domain.ParseError
	)
	switch {
	case errors.Is(err, scheduler.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.As(err, &fetchErr), errors.As(err, &parseErr):
		writeError(w, http.StatusBadGateway, err.Error())
		return
	case err != nil:
		s.logger.Error("manual refresh failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{
		IngestionResult: result,
		RecordErrors: lo.Map(result.Errors, func(e *domain.RecordError, _ int) string {
			return e.Error()
		}),
	})
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.preferencesBody())
}

// handlePutPreferences merges the body over the current preferences, so
// omitted fields keep their value.
func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	body := s.preferencesBody()
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	interval, err := config.PollIntervalFromMinutes(body.PollIntervalMinutes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	prefs := config.Preferences{
		AutoUpdate:       body.AutoUpdate,
		PollInterval:     interval,
		MinimumMagnitude: body.MinimumMagnitude,
	}
	if err := prefs.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.deps.PreferencesFile != "" {
		if err := config.SavePreferences(s.deps.PreferencesFile, prefs); err != nil {
			s.logger.Error("save preferences failed", "path", s.deps.PreferencesFile, "error", err)
			writeError(w, http.StatusInternalServerError, "could not persist preferences")
			return
		}
	}

	if err := s.deps.Scheduler.Reconfigure(prefs); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.preferencesBody())
}

func (s *Server) preferencesBody() preferencesBody {
	prefs := s.deps.Scheduler.Preferences()
	return preferencesBody{
		AutoUpdate:          prefs.AutoUpdate,
		PollIntervalMinutes: int(prefs.PollInterval / time.Minute),
		MinimumMagnitude:    prefs.MinimumMagnitude,
		State:               s.deps.Scheduler.State().String(),
	}
}

// listQuery parses a read query. Without min_magnitude the current
// preference threshold applies.
func (s *Server) listQuery(q url.Values) (domain.Filter, domain.Sort, error) {
	f, err := parseFilter(q)
	if err != nil {
		return domain.Filter{}, 0, err
	}
	if !q.Has("min_magnitude") {
		f.MinMagnitude = s.deps.Scheduler.Preferences().MinimumMagnitude
	}
	f.Limit, err = parseLimit(q.Get("limit"), 0)
	if err != nil {
		return domain.Filter{}, 0, err
	}
	return f, domain.ParseSort(q.Get("sort")), nil
}

func parseFilter(q url.Values) (domain.Filter, error) {
	var (
		f   domain.Filter
		err error
	)
	if f.MinMagnitude, err = parseFloat(q, "min_magnitude"); err != nil {
		return f, err
	}
	if f.MaxMagnitude, err = parseFloat(q, "max_magnitude"); err != nil {
		return f, err
	}
	if f.Since, err = parseTime(q, "since"); err != nil {
		return f, err
	}
	if f.Until, err = parseTime(q, "until"); err != nil {
		return f, err
	}
	f.DetailsContains = q.Get("q")
	return f, nil
}

func parseFloat(q url.Values, key string) (float64, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid %s: must be a non-negative number", key)
	}
	return f, nil
}

func parseTime(q url.Values, key string) (time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: must be RFC 3339", key)
	}
	return t.UTC(), nil
}

func parseLimit(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid limit: must be a positive integer")
	}
	return lo.Clamp(n, 1, maxLimit), nil
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
