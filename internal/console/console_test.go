package console

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"example.com/attendance/internal/api"
	"example.com/attendance/internal/attendance"
	"example.com/attendance/internal/auth"
	"example.com/attendance/internal/credential"
	"example.com/attendance/internal/device"
	"example.com/attendance/internal/domain"
	"example.com/attendance/internal/gateway"
	"example.com/attendance/internal/persistence/memory"
	"example.com/attendance/internal/session"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newConsole(t *testing.T) (*Console, *syncBuffer, credential.Store) {
	t.Helper()
	discard := log.New(io.Discard, "", 0)

	repo := memory.NewRepository()
	require.NoError(t, domain.Seed(context.Background(), repo, bcrypt.MinCost, domain.DefaultAccounts...))
	h := api.NewHandler(domain.NewService(repo, domain.WithLogger(discard)),
		auth.Config{Secret: "console", Issuer: "attendance.console", TTL: time.Hour}, nil, api.WithLogger(discard))
	srv := httptest.NewServer(h.Router("/api"))
	t.Cleanup(srv.Close)

	store := credential.NewMemoryStore()
	gw := gateway.New(srv.URL+"/api", store, gateway.WithLogger(discard))
	sess := session.NewManager(gw, store, session.WithLogger(discard))
	client := attendance.NewClient(gw)
	detector := device.NewPresenceDetector(false)

	out := &syncBuffer{}
	var con *Console
	wf := attendance.NewWorkflow(device.NewSimLocator(40.7128, -74.0060, 12), device.NewSimCamera(), detector, client,
		attendance.WithLogger(discard),
		attendance.WithObserver(attendance.ObserverFunc(func(tr attendance.Transition) { con.StageChanged(tr) })),
	)
	con = New(sess, wf, client, detector, out)
	return con, out, store
}

func TestConsoleScript(t *testing.T) {
	con, out, _ := newConsole(t)
	script := strings.Join([]string{
		"status",
		"login john.doe@company.com employee123",
		"start",
		"capture",
		"face on",
		"capture",
		"retake",
		"flip",
		"capture",
		"confirm",
		"status",
		"records",
		"quit",
		"status",
	}, "\n")

	require.NoError(t, con.Run(context.Background(), strings.NewReader(script)))

	text := out.String()
	require.Contains(t, text, "error: session: not authenticated")
	require.Contains(t, text, "signed in as John Doe (EMPLOYEE)")
	require.Contains(t, text, "idle -> locating")
	require.Contains(t, text, "locating -> awaiting_capture")
	require.Contains(t, text, "no face detected")
	require.Contains(t, text, "camera: environment")
	require.Contains(t, text, "recorded: CHECKED_IN")
	require.Contains(t, text, "attendance status: CHECKED_IN")
	require.Contains(t, text, "error: "+session.ErrRoleNotPermitted.Error())
	require.Equal(t, 1, strings.Count(text, "attendance status:"), "commands after quit are not run")
}

func TestConsoleAdminRecords(t *testing.T) {
	con, out, _ := newConsole(t)
	ctx := context.Background()

	require.NoError(t, con.Execute(ctx, "login admin@company.com admin123"))
	require.NoError(t, con.Execute(ctx, "records"))
	require.Contains(t, out.String(), "0 record(s)")

	require.NoError(t, con.Execute(ctx, "logout"))
	require.ErrorIs(t, con.Execute(ctx, "records"), session.ErrNotAuthenticated)
	require.Error(t, con.Execute(ctx, "bogus"))
	require.Error(t, con.Execute(ctx, "face maybe"))
}

func TestSignOutDiscardsRun(t *testing.T) {
	con, out, _ := newConsole(t)
	ctx := context.Background()

	for _, line := range []string{"login john.doe@company.com employee123", "face on", "start", "capture"} {
		require.NoError(t, con.Execute(ctx, line), line)
	}
	require.Equal(t, attendance.StageReviewing, con.workflow.Snapshot().Stage)

	require.NoError(t, con.Execute(ctx, "logout"))
	require.Equal(t, attendance.StageIdle, con.workflow.Snapshot().Stage)
	require.Nil(t, con.workflow.Snapshot().Run)

	require.NoError(t, con.Execute(ctx, "login admin@company.com admin123"))
	require.ErrorIs(t, con.Execute(ctx, "confirm"), attendance.ErrInvalidTransition)

	require.NoError(t, con.Execute(ctx, "records"))
	text := out.String()
	require.Contains(t, text, "attendance run discarded")
	require.Contains(t, text, "0 record(s)")
	require.NotContains(t, text, "recorded:")
}

func TestRejectedCredentialDiscardsRun(t *testing.T) {
	con, out, store := newConsole(t)
	ctx := context.Background()

	for _, line := range []string{"login john.doe@company.com employee123", "face on", "start", "capture"} {
		require.NoError(t, con.Execute(ctx, line), line)
	}
	require.NoError(t, store.Save(ctx, "not-a-token"))

	err := con.Execute(ctx, "status")
	require.True(t, gateway.IsKind(err, gateway.KindUnauthenticated))
	require.Equal(t, session.StateAnonymous, con.session.State())
	require.Equal(t, attendance.StageIdle, con.workflow.Snapshot().Stage)
	require.Contains(t, out.String(), "attendance run discarded")

	require.NoError(t, con.Execute(ctx, "login john.doe@company.com employee123"))
	require.ErrorIs(t, con.Execute(ctx, "confirm"), attendance.ErrInvalidTransition)
}
