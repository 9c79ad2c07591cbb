package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/attendance/internal/credential"
	"example.com/attendance/internal/notify"
)

func newTestGateway(t *testing.T, baseURL string, store credential.Store, opts ...Option) (*Gateway, *notify.Recorder) {
	t.Helper()
	recorder := &notify.Recorder{}
	opts = append([]Option{WithNotifier(recorder), WithLogger(log.New(io.Discard, "", 0))}, opts...)
	return New(baseURL, store, opts...), recorder
}

func TestCallAttachesBearerWhenCredentialPresent(t *testing.T) {
	var gotAuth []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = append(gotAuth, r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	store := credential.NewMemoryStore()
	gw, recorder := newTestGateway(t, srv.URL, store)
	ctx := context.Background()

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, gw.Call(ctx, http.MethodGet, "/ping", nil, &out))
	require.True(t, out.OK)

	require.NoError(t, store.Save(ctx, "t1"))
	require.NoError(t, gw.Call(ctx, http.MethodGet, "/ping", nil, nil))

	require.Equal(t, []string{"", "Bearer t1"}, gotAuth)
	require.Empty(t, recorder.All())
}

func TestCallClassifiesStatuses(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		kind    Kind
		message string
	}{
		{"forbidden", http.StatusForbidden, `{"message":"nope"}`, KindForbidden, "You do not have permission to perform this action"},
		{"not found", http.StatusNotFound, ``, KindNotFound, "Resource not found"},
		{"validation with message", http.StatusUnprocessableEntity, `{"message":"Employee is already checked in"}`, KindValidation, "Employee is already checked in"},
		{"validation with detail", http.StatusUnprocessableEntity, `{"detail":"image required"}`, KindValidation, "image required"},
		{"validation default", http.StatusUnprocessableEntity, `not json`, KindValidation, "Validation failed"},
		{"server fault", http.StatusInternalServerError, `{"message":"stack trace"}`, KindServerFault, "Internal server error. Please try again later."},
		{"bad gateway", http.StatusBadGateway, ``, KindServerFault, "Internal server error. Please try again later."},
		{"teapot", http.StatusTeapot, ``, KindUnknown, "Error 418: I'm a teapot"},
		{"too many requests", http.StatusTooManyRequests, `{"error":"slow down"}`, KindUnknown, "slow down"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			store := credential.NewMemoryStore()
			require.NoError(t, store.Save(context.Background(), "keep-me"))
			gw, recorder := newTestGateway(t, srv.URL, store)

			err := gw.Call(context.Background(), http.MethodPost, "/thing", map[string]string{"a": "b"}, nil)
			require.Error(t, err)

			var gwErr *Error
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, tc.kind, gwErr.Kind)
			assert.Equal(t, tc.status, gwErr.Status)
			assert.Equal(t, tc.message, gwErr.Message)

			notes := recorder.All()
			require.Len(t, notes, 1)
			assert.Equal(t, tc.message, notes[0].Message)
			assert.Equal(t, string(tc.kind), notes[0].Kind)

			assert.Equal(t, "keep-me", credential.Token(context.Background(), store), "only 401 touches the credential")
		})
	}
}

func TestUnreachableKeepsCredentialAndNotifiesOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	baseURL := srv.URL
	srv.Close()

	store := credential.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), "t1"))
	gw, recorder := newTestGateway(t, baseURL, store)

	before := testutil.ToFloat64(callCounter.WithLabelValues(http.MethodGet, string(KindUnreachable)))

	err := gw.Call(context.Background(), http.MethodGet, "/auth/me", nil, nil)
	require.True(t, IsKind(err, KindUnreachable))
	require.Equal(t, "t1", credential.Token(context.Background(), store))

	notes := recorder.All()
	require.Len(t, notes, 1)
	require.Contains(t, notes[0].Message, baseURL)
	require.Equal(t, notify.LevelError, notes[0].Level)

	after := testutil.ToFloat64(callCounter.WithLabelValues(http.MethodGet, string(KindUnreachable)))
	require.Equal(t, before+1, after)
}

func TestTimeoutClassifiesAsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	gw, recorder := newTestGateway(t, srv.URL, credential.NewMemoryStore(), WithTimeout(50*time.Millisecond))

	err := gw.Call(context.Background(), http.MethodGet, "/slow", nil, nil)
	require.Equal(t, KindUnreachable, KindOf(err))
	require.Len(t, recorder.All(), 1)
}

func TestCallerCancellationIsNotAnnounced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	gw, recorder := newTestGateway(t, srv.URL, credential.NewMemoryStore())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := gw.Call(ctx, http.MethodGet, "/slow", nil, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, recorder.All())
}

func TestUnauthenticatedClearsCredentialOfFailingRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	ctx := context.Background()
	store := credential.NewMemoryStore()
	require.NoError(t, store.Save(ctx, "stale"))
	gw, recorder := newTestGateway(t, srv.URL, store)

	err := gw.Call(ctx, http.MethodGet, "/attendance/status", nil, nil)
	require.True(t, IsKind(err, KindUnauthenticated))
	require.Equal(t, "", credential.Token(ctx, store))

	notes := recorder.All()
	require.Len(t, notes, 1)
	require.Equal(t, notify.LevelWarning, notes[0].Level)
	require.Equal(t, "Your session has expired. Please sign in again.", notes[0].Message)
}

func TestUnauthenticatedHandlerSeesTokenAndSkipsAnonymousCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Invalid credentials"})
	}))
	defer srv.Close()

	ctx := context.Background()
	store := credential.NewMemoryStore()
	gw, recorder := newTestGateway(t, srv.URL, store)

	var seen []string
	gw.OnUnauthenticated(func(_ context.Context, token string) { seen = append(seen, token) })

	err := gw.Call(ctx, http.MethodPost, "/auth/login", map[string]string{"email": "x"}, nil)
	require.True(t, IsKind(err, KindUnauthenticated))
	require.Empty(t, seen, "a request without credential has nothing to expire")
	require.Equal(t, "Invalid credentials", recorder.All()[0].Message)

	require.NoError(t, store.Save(ctx, "t9"))
	_ = gw.Call(ctx, http.MethodGet, "/auth/me", nil, nil)
	require.Equal(t, []string{"t9"}, seen)
}

func TestDefaultHandlerLeavesReplacedCredential(t *testing.T) {
	ctx := context.Background()
	store := credential.NewMemoryStore()
	require.NoError(t, store.Save(ctx, "old"))

	arrived := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-release
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	gw, _ := newTestGateway(t, srv.URL, store)

	done := make(chan error, 1)
	go func() { done <- gw.Call(ctx, http.MethodGet, "/auth/me", nil, nil) }()

	// A login completes while the stale request is still in flight.
	<-arrived
	require.NoError(t, store.Save(ctx, "new"))
	close(release)

	require.True(t, IsKind(<-done, KindUnauthenticated))
	require.Equal(t, "new", credential.Token(ctx, store))
}

func TestQuietCallSkipsNotification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	gw, recorder := newTestGateway(t, srv.URL, credential.NewMemoryStore())

	err := gw.Call(context.Background(), http.MethodPost, "/auth/logout", nil, nil, Quiet())
	require.Equal(t, KindServerFault, KindOf(err))
	require.Empty(t, recorder.All())
}

func TestUndecodableSuccessBodyIsUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>proxy login</html>`))
	}))
	defer srv.Close()

	gw, recorder := newTestGateway(t, srv.URL+"/", credential.NewMemoryStore())
	require.Equal(t, strings.TrimRight(srv.URL, "/"), gw.BaseURL())

	var out map[string]any
	err := gw.Call(context.Background(), http.MethodGet, "/auth/me", nil, &out)
	require.Equal(t, KindUnknown, KindOf(err))
	require.Len(t, recorder.All(), 1)
}

func TestCallObservesLatency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	gw, _ := newTestGateway(t, srv.URL, credential.NewMemoryStore())
	before := durationSampleCount(t, http.MethodPatch)
	okBefore := testutil.ToFloat64(callCounter.WithLabelValues(http.MethodPatch, "ok"))

	require.NoError(t, gw.Call(context.Background(), http.MethodPatch, "/profile", map[string]string{"a": "b"}, nil))

	require.Equal(t, before+1, durationSampleCount(t, http.MethodPatch))
	require.Equal(t, okBefore+1, testutil.ToFloat64(callCounter.WithLabelValues(http.MethodPatch, "ok")))
}

func durationSampleCount(t *testing.T, method string) uint64 {
	t.Helper()

	observer, ok := callDuration.WithLabelValues(method).(prometheus.Metric)
	require.True(t, ok)
	metric := &dto.Metric{}
	require.NoError(t, observer.Write(metric))
	hist := metric.GetHistogram()
	require.NotNil(t, hist)
	return hist.GetSampleCount()
}
