package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"example.com/attendance/internal/auth"
	"example.com/attendance/internal/contract"
	"example.com/attendance/internal/domain"
	"example.com/attendance/internal/persistence/memory"
)

const prefix = "/api"

var tokenConfig = auth.Config{Secret: "test-secret", Issuer: "attendance.test", TTL: time.Hour}

type server struct {
	t       *testing.T
	handler http.Handler
}

func newServer(t *testing.T, limiter *LoginLimiter) *server {
	t.Helper()
	discard := log.New(io.Discard, "", 0)
	repo := memory.NewRepository()
	require.NoError(t, domain.Seed(context.Background(), repo, bcrypt.MinCost, domain.DefaultAccounts...))
	svc := domain.NewService(repo, domain.WithLogger(discard))
	h := NewHandler(svc, tokenConfig, limiter, WithLogger(discard))
	return &server{t: t, handler: h.Router(prefix)}
}

func (s *server) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, prefix+path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *server) login(email, password string) contract.TokenResponse {
	s.t.Helper()
	rr := s.do(http.MethodPost, "/auth/login", "", contract.LoginRequest{Email: email, Password: password})
	require.Equal(s.t, http.StatusOK, rr.Code, rr.Body.String())
	var resp contract.TokenResponse
	require.NoError(s.t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) contract.ErrorResponse {
	t.Helper()
	var body contract.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}

var submission = contract.SubmitRequest{
	Image:    "data:image/jpeg;base64,abc",
	Location: contract.Location{Lat: 40.7128, Lng: -74.0060},
}

func TestLogin(t *testing.T) {
	s := newServer(t, nil)

	resp := s.login("admin@company.com", "admin123")
	require.NotEmpty(t, resp.Token)
	require.EqualValues(t, 3600, resp.ExpiresIn)
	require.Equal(t, contract.User{ID: 1, Email: "admin@company.com", FirstName: "Admin", LastName: "User", Role: contract.RoleAdmin}, resp.User)

	claims, err := auth.Parse(resp.Token, tokenConfig)
	require.NoError(t, err)
	require.Equal(t, "1", claims.Subject)

	rr := s.do(http.MethodPost, "/auth/login", "", contract.LoginRequest{Email: "admin@company.com", Password: "nope"})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "Invalid email or password", decodeError(t, rr).Message)

	rr = s.do(http.MethodPost, "/auth/login", "", contract.LoginRequest{Email: "admin@company.com"})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = s.do(http.MethodGet, "/auth/login", "", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestMeLogoutRevokesToken(t *testing.T) {
	s := newServer(t, nil)
	token := s.login("john.doe@company.com", "employee123").Token

	rr := s.do(http.MethodGet, "/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var me contract.User
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &me))
	require.Equal(t, contract.RoleEmployee, me.Role)

	require.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/auth/me", "", nil).Code)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/auth/logout", token, nil).Code)
	rr = s.do(http.MethodGet, "/auth/me", token, nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, auth.ErrRevokedToken.Error(), decodeError(t, rr).Message)
}

func TestRefreshRotatesToken(t *testing.T) {
	s := newServer(t, nil)
	old := s.login("admin@company.com", "admin123").Token

	rr := s.do(http.MethodPost, "/auth/refresh", old, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp contract.TokenResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEqual(t, old, resp.Token)
	require.Equal(t, contract.RoleAdmin, resp.User.Role)

	require.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/auth/me", old, nil).Code)
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/auth/me", resp.Token, nil).Code)
}

func TestAttendanceFlow(t *testing.T) {
	s := newServer(t, nil)
	token := s.login("john.doe@company.com", "employee123").Token

	status := func() contract.StatusResponse {
		rr := s.do(http.MethodGet, "/attendance/status", token, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var resp contract.StatusResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		return resp
	}
	require.Equal(t, contract.StatusCheckedOut, status().Status)

	rr := s.do(http.MethodPost, "/attendance/check-out", token, submission)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "No active check-in found. Please check in first.", decodeError(t, rr).Message)

	rr = s.do(http.MethodPost, "/attendance/check-in", token, submission)
	require.Equal(t, http.StatusOK, rr.Code)
	var in contract.StatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &in))
	require.Equal(t, contract.StatusCheckedIn, in.Status)
	require.NotEmpty(t, in.RecordID)
	require.Equal(t, contract.StatusCheckedIn, status().Status)

	rr = s.do(http.MethodPost, "/attendance/check-in", token, submission)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "Employee is already checked in. Please check out first.", decodeError(t, rr).Message)

	rr = s.do(http.MethodPost, "/attendance/check-out", token, contract.SubmitRequest{Image: "img"})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "Invalid GPS coordinates provided", decodeError(t, rr).Message)

	rr = s.do(http.MethodPost, "/attendance/check-out", token, contract.SubmitRequest{Location: submission.Location})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "Face image is required for check-out", decodeError(t, rr).Message)

	rr = s.do(http.MethodPost, "/attendance/check-out", token, submission)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, contract.StatusCheckedOut, status().Status)
}

func TestRecordsAdminOnly(t *testing.T) {
	s := newServer(t, nil)
	employee := s.login("john.doe@company.com", "employee123").Token
	admin := s.login("admin@company.com", "admin123").Token

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/attendance/check-in", employee, submission).Code)

	rr := s.do(http.MethodGet, "/attendance/records", employee, nil)
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, "forbidden", decodeError(t, rr).Type)

	rr = s.do(http.MethodGet, "/attendance/records?user_id=2&limit=5", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp contract.RecordsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	require.EqualValues(t, 2, resp.Items[0].UserID)
	require.Equal(t, contract.StatusCheckedIn, resp.Items[0].Status)

	require.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/attendance/records?from=yesterday", admin, nil).Code)
	require.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/attendance/records?user_id=x", admin, nil).Code)
}

func TestUnknownRouteAndHealth(t *testing.T) {
	s := newServer(t, nil)

	rr := s.do(http.MethodGet, "/nowhere", "", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "Resource not found", decodeError(t, rr).Message)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginRateLimited(t *testing.T) {
	s := newServer(t, NewLoginLimiter(1, 2))
	before := testutil.ToFloat64(requestCounter.WithLabelValues(prefix+"/auth/login", "429"))

	bad := contract.LoginRequest{Email: "admin@company.com", Password: "guess"}
	require.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/auth/login", "", bad).Code)
	require.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/auth/login", "", bad).Code)

	rr := s.do(http.MethodPost, "/auth/login", "", bad)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "60", rr.Header().Get("Retry-After"))
	require.Equal(t, before+1, testutil.ToFloat64(requestCounter.WithLabelValues(prefix+"/auth/login", "429")))
}

func TestLoginLimiterIsPerClient(t *testing.T) {
	l := NewLoginLimiter(1, 1)
	require.True(t, l.Allow("10.0.0.1"))
	require.False(t, l.Allow("10.0.0.1"))
	require.True(t, l.Allow("10.0.0.2"))
}

func TestRecordsCursor(t *testing.T) {
	s := newServer(t, nil)
	admin := s.login("admin@company.com", "admin123").Token
	employee := s.login("john.doe@company.com", "employee123").Token

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/attendance/check-in", admin, submission).Code)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/attendance/check-in", employee, submission).Code)

	rr := s.do(http.MethodGet, "/attendance/records?limit=1", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var first contract.RecordsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &first))
	require.Len(t, first.Items, 1)
	require.NotEmpty(t, first.NextCursor)

	rr = s.do(http.MethodGet, "/attendance/records?limit=1&cursor="+first.NextCursor, admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var second contract.RecordsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &second))
	require.Len(t, second.Items, 1)
	require.NotEqual(t, first.Items[0].RecordID, second.Items[0].RecordID)

	require.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/attendance/records?cursor=%25%25", admin, nil).Code)
}
