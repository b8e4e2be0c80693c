package server

import (
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/me/optrun/pkg/model"
)

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, healthResponse{
		Status:    "healthy",
		Version:   "0.1.0",
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
	})
}

type studyResponse struct {
	Study  *model.Study `json:"study"`
	Counts model.Counts `json:"counts"`
}

func (s *Server) handleStudy(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	study, err := s.store.GetStudy(r.Context())
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	if study == nil {
		respondError(w, reqID, http.StatusNotFound, "study_not_found", "no study recorded yet")
		return
	}
	counts, err := s.store.Counts(r.Context())
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	respondOK(w, reqID, studyResponse{Study: study, Counts: counts})
}

func (s *Server) handleTrials(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	trials, err := s.store.ListTrials(r.Context())
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	if state := r.URL.Query().Get("state"); state != "" {
		filtered := trials[:0]
		for _, trial := range trials {
			if string(trial.State) == state {
				filtered = append(filtered, trial)
			}
		}
		trials = filtered
	}
	respondOK(w, reqID, trials)
}

func (s *Server) handleTrial(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, "invalid_trial_id", "trial id must be an integer")
		return
	}
	trial, err := s.store.GetTrial(r.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrTrialNotFound) {
			respondError(w, reqID, http.StatusNotFound, "trial_not_found", err.Error())
			return
		}
		respondError(w, reqID, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	respondOK(w, reqID, trial)
}

type bestResponse struct {
	Goals  []model.Goal   `json:"goals"`
	Trials []*model.Trial `json:"trials"`
}

func (s *Server) handleBest(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	best, err := s.store.BestTrials(r.Context(), s.goals)
	if err != nil {
		if errors.Is(err, model.ErrNoFinishedTrials) {
			respondError(w, reqID, http.StatusNotFound, "no_finished_trials", err.Error())
			return
		}
		respondError(w, reqID, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	respondOK(w, reqID, bestResponse{Goals: s.goals, Trials: best})
}
