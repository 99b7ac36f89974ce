package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/filter"
	"github.com/JakeFAU/listing-crawler/internal/workqueue"
)

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

type tierRequest struct {
	Elevated *bool `json:"elevated"`
}

type concurrencyRequest struct {
	Limit int `json:"limit"`
}

func (s *Server) getControl(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.State.Snapshot())
}

// requestStop handles POST /v1/control/stop. Running sessions end at their
// next checkpoint with the stopped outcome.
func (s *Server) requestStop(w http.ResponseWriter, _ *http.Request) {
	s.deps.State.RequestStop()
	s.logger.Info("stop requested")
	writeJSON(w, http.StatusOK, s.deps.State.Snapshot())
}

func (s *Server) setSlowMode(w http.ResponseWriter, r *http.Request) {
	var body toggleRequest
	if err := decodeJSON(r, &body); err != nil || body.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	s.deps.State.SetSlowMode(*body.Enabled)
	s.logger.Info("slow mode changed", zap.Bool("enabled", *body.Enabled))
	writeJSON(w, http.StatusOK, s.deps.State.Snapshot())
}

// setTier handles PUT /v1/control/tier. The new cap applies to sessions that
// resolve their page bounds afterwards.
func (s *Server) setTier(w http.ResponseWriter, r *http.Request) {
	var body tierRequest
	if err := decodeJSON(r, &body); err != nil || body.Elevated == nil {
		writeError(w, http.StatusBadRequest, "elevated is required")
		return
	}
	s.deps.State.SetElevated(*body.Elevated)
	writeJSON(w, http.StatusOK, s.deps.State.Snapshot())
}

func (s *Server) getFilter(w http.ResponseWriter, _ *http.Request) {
	p := s.deps.Filters.Load()
	writeJSON(w, http.StatusOK, map[string]any{
		"options": p.Options(),
		"stages":  p.Stages(),
	})
}

// updateFilter handles PUT /v1/filter: it compiles the new options, swaps the
// active pipeline and re-filters every finished session without refetching.
func (s *Server) updateFilter(w http.ResponseWriter, r *http.Request) {
	var opts filter.Options
	if err := decodeJSON(r, &opts); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := filter.New(opts, s.deps.BlockList, s.logger.Named("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.deps.Filters.Set(p)

	refiltered := 0
	if s.deps.Refilterer != nil {
		refiltered, err = s.deps.Sessions.Refilter(r.Context(), s.deps.Refilterer, p)
		if err != nil {
			s.logger.Error("refilter sessions failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to re-filter sessions")
			return
		}
	}
	s.logger.Info("filter settings changed",
		zap.Strings("stages", p.Stages()),
		zap.Int("sessions_refiltered", refiltered),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"stages":     p.Stages(),
		"refiltered": refiltered,
	})
}

// downloads handles POST /v1/downloads/{start|pause|stop}, which drive the
// actively-working flag gating the work queue.
func (s *Server) downloads(w http.ResponseWriter, r *http.Request) {
	switch action := chi.URLParam(r, "action"); action {
	case "start":
		s.deps.State.SetActivelyWorking(true)
	case "pause", "stop":
		s.deps.State.SetActivelyWorking(false)
	default:
		writeError(w, http.StatusNotFound, "unknown download action")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.State.Snapshot())
}

func (s *Server) setConvertConcurrency(w http.ResponseWriter, r *http.Request) {
	if s.deps.ConvertQueue == nil {
		writeError(w, http.StatusServiceUnavailable, "conversion queue unavailable")
		return
	}
	var body concurrencyRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.ConvertQueue.SetConcurrencyLimit(body.Limit); err != nil {
		if errors.Is(err, workqueue.ErrInvalidLimit) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"limit":     s.deps.ConvertQueue.Limit(),
		"in_flight": s.deps.ConvertQueue.InFlight(),
	})
}
