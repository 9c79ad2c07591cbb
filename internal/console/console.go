// Package console drives the session and the attendance workflow from a
// line-oriented terminal.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"example.com/attendance/internal/attendance"
	"example.com/attendance/internal/contract"
	"example.com/attendance/internal/session"
)

// ErrQuit is returned by Execute for the quit command.
var ErrQuit = errors.New("quit")

// Backend is the part of attendance.Client the console needs.
type Backend interface {
	CurrentStatus(ctx context.Context) (contract.AttendanceStatus, error)
	Records(ctx context.Context, limit int) ([]contract.AttendanceRecord, error)
}

// SubjectSwitch toggles the simulated subject-in-frame signal.
type SubjectSwitch interface {
	Set(present bool)
}

// Console maps commands to session and workflow operations.
type Console struct {
	session  *session.Manager
	workflow *attendance.Workflow
	backend  Backend
	subject  SubjectSwitch
	out      io.Writer
	mu       sync.Mutex
}

// New constructs a Console writing to out. subject may be nil. The console
// subscribes to sess so a run never outlives the user who started it.
func New(sess *session.Manager, wf *attendance.Workflow, backend Backend, subject SubjectSwitch, out io.Writer) *Console {
	c := &Console{session: sess, workflow: wf, backend: backend, subject: subject, out: out}
	sess.Subscribe(c.SessionChanged)
	return c
}

// SessionChanged discards the current run on sign-out and on sign-in. A run
// in Submitting is left to finish; if it fails, the next sign-in discards it.
func (c *Console) SessionChanged(state session.State) {
	if state != session.StateAnonymous && state != session.StateAuthenticated {
		return
	}
	if c.workflow.Snapshot().Stage == attendance.StageIdle {
		return
	}
	if err := c.workflow.Cancel(); err == nil {
		c.printf("attendance run discarded")
	}
}

// Run reads commands from in until EOF, quit or ctx is done.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	c.printf("type 'help' for commands")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		err := c.Execute(ctx, scanner.Text())
		if errors.Is(err, ErrQuit) {
			return nil
		}
		if err != nil {
			c.printf("error: %v", err)
		}
	}
	return scanner.Err()
}

// Execute runs one command line.
func (c *Console) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "help":
		c.help()
		return nil
	case "quit", "exit":
		return ErrQuit
	case "login":
		if len(args) != 2 {
			return errors.New("usage: login <email> <password>")
		}
		identity, err := c.session.Login(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		c.printf("signed in as %s (%s)", identity.FullName(), identity.Role)
		return nil
	case "logout":
		c.session.Logout(ctx)
		return nil
	case "whoami":
		identity, ok := c.session.Identity()
		if !ok {
			c.printf("not signed in")
			return nil
		}
		c.printf("%s <%s> %s, session expires %s", identity.FullName(), identity.Email, identity.Role, c.expiry())
		return nil
	case "refresh":
		return c.session.Refresh(ctx)
	case "face":
		if c.subject == nil || len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return errors.New("usage: face on|off")
		}
		c.subject.Set(args[0] == "on")
		return nil
	case "state":
		c.printSnapshot()
		return nil
	}

	if _, err := c.session.Authorize(); err != nil {
		return err
	}

	switch cmd {
	case "status":
		status, err := c.backend.CurrentStatus(ctx)
		if err != nil {
			return err
		}
		c.printf("attendance status: %s", status)
		return nil
	case "records":
		if _, err := c.session.Authorize(contract.RoleAdmin); err != nil {
			return err
		}
		records, err := c.backend.Records(ctx, 20)
		if err != nil {
			return err
		}
		for _, r := range records {
			c.printf("%s user=%d %s in=%s hours=%.2f", r.RecordID, r.UserID, r.Status, r.CheckInAt.Format("2006-01-02 15:04"), r.HoursWorked)
		}
		c.printf("%d record(s)", len(records))
		return nil
	case "start":
		status, err := c.backend.CurrentStatus(ctx)
		if err != nil {
			return err
		}
		return c.workflow.Start(ctx, status)
	case "retry":
		if c.workflow.Snapshot().Stage == attendance.StageFailed {
			return c.confirmed(c.workflow.RetrySubmit(ctx))
		}
		return c.workflow.RetryLocation(ctx)
	case "capture":
		err := c.workflow.Capture(ctx)
		if errors.Is(err, attendance.ErrCaptureRefused) {
			c.printf("no face detected, position yourself in frame")
			return nil
		}
		return err
	case "retake":
		return c.workflow.Retake()
	case "flip":
		facing, err := c.workflow.FlipCamera()
		if err != nil {
			return err
		}
		c.printf("camera: %s", facing)
		return nil
	case "confirm":
		return c.confirmed(c.workflow.Confirm(ctx))
	case "cancel":
		return c.workflow.Cancel()
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// StageChanged implements attendance.Observer.
func (c *Console) StageChanged(t attendance.Transition) {
	if t.Err != nil {
		c.printf("%s -> %s: %v", t.From, t.To, t.Err)
		return
	}
	c.printf("%s -> %s", t.From, t.To)
}

func (c *Console) confirmed(resp contract.StatusResponse, err error) error {
	if err != nil {
		return err
	}
	c.printf("recorded: %s", resp.Status)
	return nil
}

func (c *Console) expiry() string {
	exp := c.session.ExpiresAt()
	if exp.IsZero() {
		return "unknown"
	}
	return exp.Local().Format("15:04:05")
}

func (c *Console) printSnapshot() {
	snap := c.workflow.Snapshot()
	c.printf("session=%s stage=%s camera=%s busy=%t", c.session.State(), snap.Stage, snap.Facing, snap.Busy)
	if snap.Run == nil {
		return
	}
	if snap.Run.Location != nil {
		c.printf("location: %.5f, %.5f", snap.Run.Location.Lat, snap.Run.Location.Lng)
	}
	c.printf("action: %s image: %t", snap.Run.Action, snap.Run.Image != "")
}

func (c *Console) help() {
	c.printf("%s", strings.Join([]string{
		"login <email> <password>  sign in",
		"logout | whoami | refresh",
		"status                    current attendance status",
		"start                     begin check-in or check-out",
		"capture | retake | flip   camera controls",
		"confirm                   submit the capture",
		"retry                     retry location or submission",
		"cancel                    abandon the current run",
		"face on|off               simulate a subject in frame",
		"records                   recent records (admin)",
		"state | quit",
	}, "\n"))
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}
