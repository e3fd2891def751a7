package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openhire/interview-gateway/internal/report"
	"github.com/openhire/interview-gateway/internal/session"
	"github.com/openhire/interview-gateway/internal/store"
)

type deps struct {
	sessions  *session.Manager
	reports   *report.Generator
	db        *store.Store
	wsHandler http.Handler
}

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.Handle("/ws/interview/{id}", d.wsHandler)
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("POST /api/interviews/start", d.handleStart)
	mux.HandleFunc("POST /api/interviews/{id}/end", d.handleEnd)
	mux.HandleFunc("GET /api/interviews/{id}/status", d.handleStatus)
	mux.HandleFunc("GET /api/interviews/{id}/messages", d.handleMessages)
	mux.HandleFunc("POST /api/interviews/{id}/report", d.handleReport)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (d deps) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ApplicantID   string `json:"applicant_id"`
		InterviewType string `json:"interview_type"`
		ResumeData    string `json:"resume_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.ApplicantID == "" {
		http.Error(w, "applicant_id required", http.StatusBadRequest)
		return
	}

	sess, err := d.sessions.Start(r.Context(), session.StartRequest{
		ApplicantID: req.ApplicantID,
		Modality:    store.Modality(req.InterviewType),
		ResumeData:  req.ResumeData,
	})
	if err != nil {
		if errors.Is(err, session.ErrAlreadyActive) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		slog.Error("start interview", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"session_id":     sess.ID,
		"status":         sess.Status,
		"interview_type": sess.Modality,
		"message":        "Interview session started successfully",
	})
}

func (d deps) handleEnd(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := d.sessions.End(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		slog.Error("end interview", "session_id", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{
		"session_id": id,
		"message":    "Interview ended successfully",
	})
}

func (d deps) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, err := d.sessions.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		slog.Error("session status", "session_id", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, st)
}

func (d deps) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	msgs, err := d.db.ListMessages(r.Context(), id)
	if err != nil {
		slog.Error("list messages", "session_id", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"session_id": id,
		"messages":   msgs,
	})
}

func (d deps) handleReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rep, err := d.reports.Generate(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, report.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, report.ErrEmptyTranscript):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			slog.Error("generate report", "session_id", id, "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, rep)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
