// Package api exposes the HTTP endpoints of the reference attendance backend.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"example.com/attendance/internal/auth"
	"example.com/attendance/internal/contract"
	"example.com/attendance/internal/domain"
	"example.com/attendance/internal/persistence"
)

// Option configures a Handler.
type Option func(*Handler)

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithClock overrides the time source used when issuing tokens.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
	tokens  auth.Config
	limiter *LoginLimiter
	logger  *log.Logger
	now     func() time.Time
}

// NewHandler builds a Handler. limiter may be nil to disable login throttling.
func NewHandler(service *domain.Service, tokens auth.Config, limiter *LoginLimiter, opts ...Option) *Handler {
	h := &Handler{
		service: service,
		tokens:  tokens,
		limiter: limiter,
		logger:  log.New(log.Writer(), "[api] ", log.LstdFlags|log.Lshortfile),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router builds the route table under prefix. /healthz is served outside the
// prefix and without authentication.
func (h *Handler) Router(prefix string) *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "Resource not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	})
	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)

	base := r.PathPrefix(prefix).Subrouter()

	var login http.Handler = http.HandlerFunc(h.login)
	if h.limiter != nil {
		login = h.limiter.Middleware(login)
	}
	base.Handle("/auth/login", login).Methods(http.MethodPost)

	protected := base.NewRoute().Subrouter()
	protected.Use(auth.NewMiddleware(h.tokens, nil, h.service).Wrap)
	protected.HandleFunc("/auth/logout", h.logout).Methods(http.MethodPost)
	protected.HandleFunc("/auth/me", h.me).Methods(http.MethodGet)
	protected.HandleFunc("/auth/refresh", h.refresh).Methods(http.MethodPost)
	protected.HandleFunc("/attendance/check-in", h.checkIn).Methods(http.MethodPost)
	protected.HandleFunc("/attendance/check-out", h.checkOut).Methods(http.MethodPost)
	protected.HandleFunc("/attendance/status", h.status).Methods(http.MethodGet)
	protected.Handle("/attendance/records", auth.RequireRole(http.HandlerFunc(h.records), contract.RoleAdmin)).Methods(http.MethodGet)
	return r
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req contract.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "Email and password are required")
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid email or password")
			return
		}
		h.writeDomainError(w, err)
		return
	}
	h.writeToken(w, user.Contract())
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if err := h.service.Revoke(r.Context(), claims.TokenID, claims.ExpiresAt); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, user.Contract())
}

// refresh revokes the presented token and issues a new one.
func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	claims, _ := auth.FromContext(r.Context())
	if err := h.service.Revoke(r.Context(), claims.TokenID, claims.ExpiresAt); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeToken(w, user.Contract())
}

func (h *Handler) checkIn(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, h.service.CheckIn)
}

func (h *Handler) checkOut(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, h.service.CheckOut)
}

type submitFunc func(ctx context.Context, userID int64, in domain.SubmitInput) (domain.Record, error)

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, fn submitFunc) {
	userID, ok := subject(w, r)
	if !ok {
		return
	}

	var req contract.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	record, err := fn(r.Context(), userID, domain.SubmitInput{
		Image: req.Image,
		Lat:   req.Location.Lat,
		Lng:   req.Location.Lng,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record.Response())
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	userID, ok := subject(w, r)
	if !ok {
		return
	}
	resp, err := h.service.Status(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) records(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var filter domain.RecordFilter

	if raw := query.Get("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "invalid user_id parameter")
			return
		}
		filter.UserID = id
	}
	for key, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		raw := query.Get(key)
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "invalid "+key+" parameter")
			return
		}
		*dst = parsed
	}
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}
	cursor, err := persistence.DecodeCursor(query.Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}
	filter.After = cursor

	records, next, err := h.service.Records(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	items := make([]contract.AttendanceRecord, 0, len(records))
	for _, record := range records {
		items = append(items, toRecordView(record))
	}
	writeJSON(w, http.StatusOK, contract.RecordsResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (*domain.User, bool) {
	userID, ok := subject(w, r)
	if !ok {
		return nil, false
	}
	user, err := h.service.User(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "User no longer exists")
			return nil, false
		}
		h.writeDomainError(w, err)
		return nil, false
	}
	if !user.Active {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Employee account is disabled")
		return nil, false
	}
	return user, true
}

func (h *Handler) writeToken(w http.ResponseWriter, user contract.User) {
	token, _, err := auth.Issue(user, h.tokens, h.now())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contract.TokenResponse{
		Token:     token,
		User:      user,
		ExpiresIn: int64(h.tokens.TTL / time.Second),
	})
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", verr.Message)
	case errors.Is(err, domain.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Employee not found")
	default:
		h.logger.Printf("request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error", "Internal server error")
	}
}

func subject(w http.ResponseWriter, r *http.Request) (int64, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return 0, false
	}
	id, err := claims.UserID()
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token subject")
		return 0, false
	}
	return id, true
}

func toRecordView(record domain.Record) contract.AttendanceRecord {
	return contract.AttendanceRecord{
		RecordID:    record.ID,
		UserID:      record.UserID,
		Status:      record.Status,
		CheckInAt:   record.CheckInAt,
		CheckInLat:  record.CheckInLat,
		CheckInLng:  record.CheckInLng,
		CheckOutAt:  record.CheckOutAt,
		CheckOutLat: record.CheckOutLat,
		CheckOutLng: record.CheckOutLng,
		HoursWorked: record.HoursWorked,
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, contract.ErrorResponse{Type: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
