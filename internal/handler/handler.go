package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/Dan9191/loan-service/internal/autopay"
	"github.com/Dan9191/loan-service/internal/config"
	"github.com/Dan9191/loan-service/internal/middleware"
	"github.com/Dan9191/loan-service/internal/reminder"
	"github.com/Dan9191/loan-service/internal/repository"
	"github.com/Dan9191/loan-service/internal/scheduler"
	"github.com/Dan9191/loan-service/internal/service"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// AdminService is the operator API the handlers expose.
type AdminService interface {
	Login(username, password string) (string, error)
	RunAutoPay(ctx context.Context) (autopay.Summary, error)
	RunReminders(ctx context.Context) (reminder.Summary, error)
	TriggerAutoPay(ctx context.Context, loanID int64) (autopay.Outcome, error)
	TriggerReminder(ctx context.Context, loanID int64) (reminder.Outcome, error)
	LoanSchedule(ctx context.Context, loanID int64) (*service.LoanSchedule, error)
	SchedulerStatus() []scheduler.JobStatus
}

// Pinger reports whether the database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	svc AdminService
	db  Pinger
	log *logrus.Logger
}

func NewHandler(svc AdminService, db Pinger, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, db: db, log: log}
}

// Router wires the public and admin routes.
func (h *Handler) Router(cfg *config.Config, metrics http.Handler) *mux.Router {
	r := mux.NewRouter()
	// Public routes
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/login", h.Login).Methods("POST")
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods("GET")
	}

	// Admin routes
	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.AuthMiddleware(cfg))
	admin.HandleFunc("/autopay/run", h.RunAutoPay).Methods("POST")
	admin.HandleFunc("/autopay/loans/{id:[0-9]+}", h.TriggerAutoPay).Methods("POST")
	admin.HandleFunc("/reminders/run", h.RunReminders).Methods("POST")
	admin.HandleFunc("/reminders/loans/{id:[0-9]+}", h.TriggerReminder).Methods("POST")
	admin.HandleFunc("/loans/{id:[0-9]+}/schedule", h.LoanSchedule).Methods("GET")
	admin.HandleFunc("/scheduler", h.SchedulerStatus).Methods("GET")
	return r
}

// Health reports liveness and database reachability
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			h.log.Errorf("Health check failed: %v", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Login exchanges operator credentials for a token
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	token, err := h.svc.Login(req.Username, req.Password)
	if err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// RunAutoPay runs the auto-pay sweep. The sweep is detached from the
// request so a dropped connection does not stop it halfway.
func (h *Handler) RunAutoPay(w http.ResponseWriter, r *http.Request) {
	h.log.WithField("operator", middleware.Subject(r.Context())).Info("Auto-pay sweep requested")
	summary, err := h.svc.RunAutoPay(context.WithoutCancel(r.Context()))
	if err != nil {
		http.Error(w, "Auto-pay sweep failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// RunReminders runs the reminder sweep
func (h *Handler) RunReminders(w http.ResponseWriter, r *http.Request) {
	h.log.WithField("operator", middleware.Subject(r.Context())).Info("Reminder sweep requested")
	summary, err := h.svc.RunReminders(context.WithoutCancel(r.Context()))
	if err != nil {
		http.Error(w, "Reminder sweep failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// TriggerAutoPay re-runs auto-pay for one loan
func (h *Handler) TriggerAutoPay(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDParam(w, r)
	if !ok {
		return
	}
	out, err := h.svc.TriggerAutoPay(context.WithoutCancel(r.Context()), loanID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// TriggerReminder re-runs the reminder check for one loan
func (h *Handler) TriggerReminder(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDParam(w, r)
	if !ok {
		return
	}
	out, err := h.svc.TriggerReminder(context.WithoutCancel(r.Context()), loanID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// LoanSchedule returns the derived schedule for a loan
func (h *Handler) LoanSchedule(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDParam(w, r)
	if !ok {
		return
	}
	view, err := h.svc.LoanSchedule(r.Context(), loanID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// SchedulerStatus reports the sweep schedules and their last runs
func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": h.svc.SchedulerStatus()})
}

func loanIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid loan id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		http.Error(w, "Loan not found", http.StatusNotFound)
	case errors.Is(err, autopay.ErrAutoPayDisabled):
		http.Error(w, "Auto-pay is not enabled for this loan", http.StatusConflict)
	default:
		h.log.Errorf("Request failed: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
