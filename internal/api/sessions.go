package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/source"
	"github.com/JakeFAU/listing-crawler/internal/storage/memory"
)

const (
	defaultSessionLimit = 50
	maxSessionLimit     = 500
)

type sessionRequest struct {
	Source    string            `json:"source"`
	StartPage int               `json:"start_page"`
	Requested *int              `json:"requested"`
	Params    map[string]string `json:"params"`
}

// submitSession handles POST /v1/sessions. A new trigger clears a pending
// stop request so the session can run.
func (s *Server) submitSession(w http.ResponseWriter, r *http.Request) {
	var body sessionRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := s.toSessionRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.enqueueSession(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, context.DeadlineExceeded),
			errors.Is(err, crawler.ErrQueueFull),
			errors.Is(err, crawler.ErrQueueClosed):
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id})
}

func (s *Server) toSessionRequest(body sessionRequest) (crawler.SessionRequest, error) {
	name := strings.TrimSpace(body.Source)
	if name == "" {
		return crawler.SessionRequest{}, errors.New("source is required")
	}
	if s.deps.Sources != nil {
		if _, err := s.deps.Sources.Lookup(name); err != nil {
			if errors.Is(err, source.ErrUnknownSource) {
				return crawler.SessionRequest{}, err
			}
			return crawler.SessionRequest{}, fmt.Errorf("resolve source: %w", err)
		}
	}
	if body.StartPage < 0 {
		return crawler.SessionRequest{}, errors.New("start_page must be >= 0")
	}
	req := crawler.SessionRequest{
		Source:    name,
		StartPage: max(body.StartPage, 1),
		Requested: crawler.DefaultBudget,
		Params:    body.Params,
	}
	if body.Requested != nil {
		if *body.Requested < crawler.Unbounded {
			return crawler.SessionRequest{}, errors.New("requested must be >= 0, or -1 for all pages")
		}
		req.Requested = *body.Requested
	}
	return req, nil
}

func (s *Server) enqueueSession(ctx context.Context, req crawler.SessionRequest) (string, error) {
	id, err := s.deps.IDGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	now := s.deps.Clock.Now()
	record := crawler.SessionRecord{
		ID:        id,
		Request:   req,
		Status:    crawler.StatusQueued,
		Submitted: now,
	}
	if err := s.deps.Sessions.Create(ctx, record); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := crawler.QueueItem{
		SessionID: id,
		Request:   req,
		Submitted: now.Unix(),
	}
	if err := s.deps.Dispatcher.Enqueue(queueCtx, item); err != nil {
		// The record exists already; leave it terminal rather than QUEUED forever.
		if ferr := s.deps.Sessions.Fail(context.WithoutCancel(ctx), id, err, s.deps.Clock.Now()); ferr != nil {
			s.logger.Error("record enqueue failure failed", zap.String("session_id", id), zap.Error(ferr))
		}
		return "", fmt.Errorf("enqueue session: %w", err)
	}
	s.deps.State.ClearStop()
	s.logger.Info("session queued",
		zap.String("session_id", id),
		zap.String("source", req.Source),
		zap.Int("start_page", req.StartPage),
		zap.Int("requested", req.Requested),
	)
	return id, nil
}

// listSessions handles GET /v1/sessions?status=&limit=&offset=.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultSessionLimit, maxSessionLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var want crawler.SessionStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		want, err = parseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	all := s.deps.Sessions.List(r.Context())
	out := make([]crawler.SessionRecord, 0, len(all))
	for _, record := range all {
		if want == "" || record.Status == want {
			out = append(out, record)
		}
	}
	if offset >= len(out) {
		out = out[:0]
	} else {
		out = out[offset:min(offset+limit, len(out))]
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// getSession handles GET /v1/sessions/{session_id}.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	record, err := s.deps.Sessions.Get(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": record})
}

// getSessionResult handles GET /v1/sessions/{session_id}/result. It returns
// 409 while the session is still queued or running.
func (s *Server) getSessionResult(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Sessions.Result(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, memory.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, memory.ErrNotFinished):
		writeError(w, http.StatusConflict, "session not finished")
	default:
		s.logger.Error("session store failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load session")
	}
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (crawler.SessionStatus, error) {
	switch strings.ToLower(input) {
	case "queued":
		return crawler.StatusQueued, nil
	case "running":
		return crawler.StatusRunning, nil
	case "done", "success":
		return crawler.StatusDone, nil
	case "failed", "error":
		return crawler.StatusFailed, nil
	default:
		return "", errors.New("invalid status")
	}
}
