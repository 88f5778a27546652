package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"homehealth-sync-service/internal/config"
	"homehealth-sync-service/internal/logger"
	"homehealth-sync-service/internal/model"
	"homehealth-sync-service/internal/store"
	"homehealth-sync-service/internal/sync"
)

// Session is the sign-in state the auth routes drive.
type Session interface {
	IsSignedIn(ctx context.Context) bool
	SignIn(tok *oauth2.Token) error
	SignOut() error
}

type Handler struct {
	syncManager *sync.Manager
	session     Session
	cfg         config.ServerConfig
}

func NewHandler(manager *sync.Manager, session Session, cfg config.ServerConfig) *Handler {
	return &Handler{
		syncManager: manager,
		session:     session,
		cfg:         cfg,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware(h.cfg.CorsOrigins))

	r.Get("/health", h.HealthCheck)
	r.Handle("/metrics", h.syncManager.Metrics().Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(h.cfg.AuthToken))

		r.Route("/sync", func(r chi.Router) {
			r.Post("/trigger", h.TriggerSync)
			r.Post("/focus", h.FocusSync)
			r.Get("/status", h.GetSyncStatus)
			r.Get("/history", h.GetSyncHistory)
			r.Post("/calendar", h.PullCalendar)
			r.Post("/dedup", h.DedupPatients)
		})

		r.Route("/queue", func(r chi.Router) {
			r.Get("/", h.ListQueue)
			r.Post("/retry-failed", h.RetryFailed)
		})

		r.Route("/auth", func(r chi.Router) {
			r.Get("/status", h.AuthStatus)
			r.Post("/sign-in", h.SignIn)
			r.Post("/sign-out", h.SignOut)
		})

		r.Route("/patients", func(r chi.Router) {
			r.Get("/", h.ListPatients)
			r.Post("/", h.SavePatient)
			r.Get("/{id}", h.GetPatient)
			r.Put("/{id}", h.SavePatient)
			r.Delete("/{id}", h.DeletePatient)
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Get("/", h.ListAppointments)
			r.Post("/", h.SaveAppointment)
			r.Get("/{id}", h.GetAppointment)
			r.Put("/{id}", h.SaveAppointment)
			r.Delete("/{id}", h.DeleteAppointment)
			r.Post("/{id}/unlink", h.UnlinkAppointment)
		})

		r.Route("/day-notes", func(r chi.Router) {
			r.Get("/", h.ListDayNotes)
			r.Post("/", h.SaveDayNote)
			r.Put("/{id}", h.SaveDayNote)
			r.Delete("/{id}", h.DeleteDayNote)
		})
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warn("Failed to encode response", zap.Error(err))
	}
}

// writeError maps engine errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sync.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, sync.ErrInvalidRecord):
		status = http.StatusBadRequest
	case errors.Is(err, sync.ErrCycleRunning), sync.IsSkipped(err):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		logger.Log.Error("Request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Sync
// ---------------------------------------------------------------------------

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	h.syncManager.Trigger(sync.TriggerManual)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (h *Handler) FocusSync(w http.ResponseWriter, r *http.Request) {
	h.syncManager.Trigger(sync.TriggerFocus)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.syncManager.Status(r.Context()))
}

func (h *Handler) GetSyncHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	history, err := h.syncManager.Store().GetSyncHistory(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

// PullCalendar runs a forced calendar pull on the request goroutine.
func (h *Handler) PullCalendar(w http.ResponseWriter, r *http.Request) {
	res, err := h.syncManager.PullCalendar(r.Context(), true)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) DedupPatients(w http.ResponseWriter, r *http.Request) {
	merged, err := h.syncManager.DedupPatients(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"merged": merged})
}

// ---------------------------------------------------------------------------
// Queue
// ---------------------------------------------------------------------------

func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	filter := store.QueueFilter{
		EntityKind: model.EntityKind(r.URL.Query().Get("entityKind")),
		Limit:      queryInt(r, "limit", 100),
	}
	if s := r.URL.Query().Get("status"); s != "" {
		for _, status := range strings.Split(s, ",") {
			filter.Statuses = append(filter.Statuses, model.QueueStatus(strings.TrimSpace(status)))
		}
	}
	items, err := h.syncManager.Queue().List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	n, err := h.syncManager.Queue().RetryFailed(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if n > 0 {
		h.syncManager.Trigger(sync.TriggerManual)
	}
	writeJSON(w, http.StatusOK, map[string]int{"requeued": n})
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

func (h *Handler) AuthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"signedIn": h.session.IsSignedIn(r.Context())})
}

// SignIn accepts an OAuth2 token obtained by the client and starts a cycle.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var tok oauth2.Token
	if !decode(w, r, &tok) {
		return
	}
	if err := h.session.SignIn(&tok); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	logger.Log.Info("Signed in")
	h.syncManager.NotifyAuthChanged()
	writeJSON(w, http.StatusOK, map[string]bool{"signedIn": true})
}

func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.session.SignOut(); err != nil {
		writeError(w, err)
		return
	}
	logger.Log.Info("Signed out")
	writeJSON(w, http.StatusOK, map[string]bool{"signedIn": false})
}

// ---------------------------------------------------------------------------
// Patients
// ---------------------------------------------------------------------------

func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := h.syncManager.Store().ListPatients(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, patients)
}

func (h *Handler) GetPatient(w http.ResponseWriter, r *http.Request) {
	p, err := h.syncManager.Store().GetPatient(r.Context(), chi.URLParam(r, "id"))
	if err == nil && p == nil {
		err = sync.ErrNotFound
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) SavePatient(w http.ResponseWriter, r *http.Request) {
	var p model.Patient
	if !decode(w, r, &p) {
		return
	}
	status := http.StatusCreated
	if id := chi.URLParam(r, "id"); id != "" {
		p.ID = id
		status = http.StatusOK
	}
	saved, err := h.syncManager.Mutations().SavePatient(r.Context(), &p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, saved)
}

func (h *Handler) DeletePatient(w http.ResponseWriter, r *http.Request) {
	if err := h.syncManager.Mutations().DeletePatient(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Appointments
// ---------------------------------------------------------------------------

func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	appts, err := h.syncManager.Store().ListAppointments(r.Context(), store.AppointmentFilter{
		From:      q.Get("from"),
		To:        q.Get("to"),
		PatientID: q.Get("patientId"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appts)
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	a, err := h.syncManager.Store().GetAppointment(r.Context(), chi.URLParam(r, "id"))
	if err == nil && a == nil {
		err = sync.ErrNotFound
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) SaveAppointment(w http.ResponseWriter, r *http.Request) {
	var a model.Appointment
	if !decode(w, r, &a) {
		return
	}
	status := http.StatusCreated
	if id := chi.URLParam(r, "id"); id != "" {
		a.ID = id
		status = http.StatusOK
	}
	saved, err := h.syncManager.Mutations().SaveAppointment(r.Context(), &a)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, saved)
}

func (h *Handler) DeleteAppointment(w http.ResponseWriter, r *http.Request) {
	if err := h.syncManager.Mutations().DeleteAppointment(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UnlinkAppointment(w http.ResponseWriter, r *http.Request) {
	if err := h.syncManager.Mutations().UnlinkAppointment(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Day notes
// ---------------------------------------------------------------------------

func (h *Handler) ListDayNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	notes, err := h.syncManager.Store().ListDayNotes(r.Context(), store.DayNoteFilter{From: q.Get("from"), To: q.Get("to")})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (h *Handler) SaveDayNote(w http.ResponseWriter, r *http.Request) {
	var n model.DayNote
	if !decode(w, r, &n) {
		return
	}
	status := http.StatusCreated
	if id := chi.URLParam(r, "id"); id != "" {
		n.ID = id
		status = http.StatusOK
	}
	saved, err := h.syncManager.Mutations().SaveDayNote(r.Context(), &n)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, saved)
}

func (h *Handler) DeleteDayNote(w http.ResponseWriter, r *http.Request) {
	if err := h.syncManager.Mutations().DeleteDayNote(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// CorsMiddleware allows the listed origins, or any origin when the list is
// empty.
func CorsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := "*"
			if len(allowed) > 0 {
				origin = r.Header.Get("Origin")
				if _, ok := allowed[origin]; !ok {
					origin = ""
				}
			}
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")
			}

			if r.Method == "OPTIONS" {
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AuthMiddleware requires "Authorization: Bearer <token>" when token is set.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
