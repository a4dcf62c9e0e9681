// Package cli is the line-oriented terminal front end of the chat client.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/vedran77/chatspace/internal/chatsync"
	"github.com/vedran77/chatspace/internal/domain"
	"github.com/vedran77/chatspace/internal/identity"
	"github.com/vedran77/chatspace/internal/logging"
	"github.com/vedran77/chatspace/internal/session"
	"github.com/vedran77/chatspace/internal/view"
)

const helpText = `commands:
  /history        show the conversation grouped by day
  /name <name>    change your display name
  /login <token>  log in with an ID token
  /logout         log out
  /quit           exit
anything else is sent as a message`

// Controller is the part of the session controller the terminal drives.
type Controller interface {
	Login(ctx context.Context, credential string) (*domain.User, error)
	Logout(ctx context.Context) error
	UpdateProfile(ctx context.Context, upd domain.ProfileUpdate) (*domain.User, error)
	Session() *chatsync.Session
}

// Terminal reads commands and messages line by line and prints the live
// conversation as it grows. It is the observer of the sessions it starts,
// so it is built before the controller and attached to it afterwards.
type Terminal struct {
	ctrl      Controller
	projector view.Projector
	logger    logging.Logger

	mu   sync.Mutex
	out  io.Writer
	seen map[string]struct{}
}

func NewTerminal(projector view.Projector, out io.Writer, logger logging.Logger) *Terminal {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Terminal{
		projector: projector,
		logger:    logger,
		out:       out,
		seen:      make(map[string]struct{}),
	}
}

// Attach sets the controller the terminal drives.
func (t *Terminal) Attach(ctrl Controller) {
	t.ctrl = ctrl
}

func (t *Terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format+"\n", args...)
}

func (t *Terminal) OnState(state domain.SubscriptionState, err error) {
	if err != nil {
		t.printf("* %s: %v", state, err)
		return
	}
	t.printf("* %s", state)
}

func (t *Terminal) OnLoad(err error) {
	if err != nil {
		t.printf("* history unavailable: %v", err)
	}
}

// OnLog prints the entries it has not printed yet.
func (t *Terminal) OnLog(snapshot []domain.EnrichedMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range snapshot {
		if _, ok := t.seen[m.ID]; ok {
			continue
		}
		t.seen[m.ID] = struct{}{}
		fmt.Fprintf(t.out, "%s %s (#%s): %s\n", m.CreatedAt.In(t.location()).Format("15:04"), m.Author.Name, m.Author.DisplayID, m.Content)
	}
}

func (t *Terminal) location() *time.Location {
	if t.projector.Location != nil {
		return t.projector.Location
	}
	return time.Local
}

// Login starts a session for credential.
func (t *Terminal) Login(ctx context.Context, credential string) error {
	t.mu.Lock()
	clear(t.seen)
	t.mu.Unlock()

	user, err := t.ctrl.Login(ctx, credential)
	if err != nil {
		return err
	}
	t.printf("logged in as %s (#%s)", user.Name, user.DisplayID)
	return nil
}

// Run processes lines from in until EOF, /quit or ctx is done.
func (t *Terminal) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if quit := t.Handle(ctx, scanner.Text()); quit {
			return nil
		}
	}
	return scanner.Err()
}

// Handle executes one input line and reports whether the user asked to
// quit.
func (t *Terminal) Handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		t.send(ctx, line)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit":
		if err := t.ctrl.Logout(ctx); err != nil {
			t.logger.Warn(ctx, "logout on quit failed", "error", err)
		}
		return true
	case "/help":
		t.printf("%s", helpText)
	case "/login":
		if arg == "" {
			t.printf("usage: /login <id token>")
			return false
		}
		if err := t.Login(ctx, arg); err != nil {
			t.printLoginError(err)
		}
	case "/logout":
		if err := t.ctrl.Logout(ctx); err != nil {
			t.printf("logout failed: %v", err)
			return false
		}
		t.printf("logged out")
	case "/name":
		t.rename(ctx, arg)
	case "/history":
		t.history()
	default:
		t.printf("unknown command %s, try /help", cmd)
	}
	return false
}

func (t *Terminal) send(ctx context.Context, content string) {
	sess := t.ctrl.Session()
	if sess == nil {
		t.printf("not logged in, use /login <id token>")
		return
	}
	if _, err := sess.Send(ctx, content); err != nil {
		switch {
		case errors.Is(err, chatsync.ErrEmptyContent):
			t.printf("message is empty")
		case errors.Is(err, chatsync.ErrSessionStopped):
			t.printf("session stopped, log in again")
		default:
			t.printf("send failed: %v", err)
		}
	}
}

func (t *Terminal) rename(ctx context.Context, name string) {
	if name == "" {
		t.printf("usage: /name <new name>")
		return
	}
	user, err := t.ctrl.UpdateProfile(ctx, domain.ProfileUpdate{Name: &name})
	if err != nil {
		if errors.Is(err, session.ErrNotLoggedIn) {
			t.printf("not logged in")
			return
		}
		t.printf("rename failed: %v", err)
		return
	}
	t.printf("you are now %s (#%s)", user.Name, user.DisplayID)
}

func (t *Terminal) history() {
	sess := t.ctrl.Session()
	if sess == nil {
		t.printf("not logged in")
		return
	}

	groups := t.projector.Project(sess.Snapshot())

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(groups) == 0 {
		fmt.Fprintln(t.out, "no messages yet")
		return
	}
	for _, g := range groups {
		fmt.Fprintf(t.out, "-- %s --\n", g.Label)
		for _, e := range g.Entries {
			if e.RunStart {
				fmt.Fprintf(t.out, "%s (#%s)\n", e.Message.Author.Name, e.Message.Author.DisplayID)
			}
			fmt.Fprintf(t.out, "  %s %s\n", e.Message.CreatedAt.In(t.location()).Format("15:04"), e.Message.Content)
		}
	}
}

func (t *Terminal) printLoginError(err error) {
	var createErr *session.ProfileCreateError
	switch {
	case errors.Is(err, identity.ErrAuth):
		t.printf("login rejected: %v", err)
	case errors.As(err, &createErr):
		t.printf("could not create your profile after %d attempts: %v", createErr.Attempts, createErr.Err)
	default:
		t.printf("login failed: %v", err)
	}
}
