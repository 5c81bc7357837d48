package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/paddock/api"
	"github.com/ggoodman/paddock/api/apitest"
	"github.com/ggoodman/paddock/auth"
	"github.com/ggoodman/paddock/config"
	"github.com/ggoodman/paddock/forms"
	"github.com/ggoodman/paddock/session"
	"github.com/spf13/cobra"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	srv *apitest.Server
	dir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	for _, k := range []string{"PADDOCK_API_URL", "PADDOCK_STORE", "PADDOCK_STORE_PATH", "PADDOCK_SSE_POLICY", "PADDOCK_SSE_RETRY", "PADDOCK_LOG_LEVEL", "PADDOCK_LOG_FORMAT"} {
		t.Setenv(k, "")
	}
	t.Setenv("PADDOCK_LOG_LEVEL", "error")
	srv := apitest.NewServer()
	t.Cleanup(srv.Close)
	return &harness{srv: srv, dir: t.TempDir()}
}

func (h *harness) runContext(ctx context.Context, stdin string, stdout, stderr *lockedBuffer, args ...string) error {
	cmd := NewRootCmd()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{
		"--api-url=" + h.srv.URL,
		"--store=" + config.StoreFile,
		"--store-path=" + h.dir,
	}, args...))
	return cmd.ExecuteContext(ctx)
}

func (h *harness) run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr lockedBuffer
	err := h.runContext(context.Background(), stdin, &stdout, &stderr, args...)
	return stdout.String(), stderr.String(), err
}

func (h *harness) mustRun(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	out, stderr, err := h.run(t, stdin, args...)
	if err != nil {
		t.Fatalf("paddock %s: %v\n%s", strings.Join(args, " "), err, stderr)
	}
	return out
}

func (h *harness) login(t *testing.T, username, password string) {
	t.Helper()
	h.mustRun(t, password+"\n", "login", username, "--password-stdin")
}

func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	return v
}

func walk(cmd *cobra.Command, fn func(*cobra.Command)) {
	fn(cmd)
	for _, c := range cmd.Commands() {
		walk(c, fn)
	}
}

func TestCommandsHaveHelp(t *testing.T) {
	var names []string
	walk(NewRootCmd(), func(c *cobra.Command) {
		names = append(names, c.CommandPath())
		if c.Short == "" {
			t.Errorf("%s has no short help", c.CommandPath())
		}
	})
	for _, want := range []string{
		"paddock login", "paddock logout", "paddock whoami", "paddock register",
		"paddock teams list", "paddock teams create", "paddock teams delete",
		"paddock pilots list", "paddock pilots create", "paddock pilots delete",
		"paddock admin users list", "paddock admin users get", "paddock admin users create",
		"paddock admin users update", "paddock admin users delete",
		"paddock watch", "paddock events schema",
	} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
			}
		}
		if !found {
			t.Errorf("missing command %q", want)
		}
	}
}

func TestLoginWhoamiLogout(t *testing.T) {
	h := newHarness(t)
	h.srv.AddUser("ana", "secret1", auth.RoleUser)

	out := h.mustRun(t, "secret1\n", "login", "ana", "--password-stdin")
	if !strings.Contains(out, "Logged in as ana (user)") {
		t.Fatalf("login output = %q", out)
	}

	id := decode[whoami](t, h.mustRun(t, "", "whoami", "-o", "json"))
	if id.Username != "ana" || id.Role != auth.RoleUser || id.Admin || id.Source != string(session.SourceServer) {
		t.Fatalf("whoami = %+v", id)
	}

	if out := h.mustRun(t, "", "logout"); !strings.Contains(out, "Logged out") {
		t.Fatalf("logout output = %q", out)
	}
	if _, _, err := h.run(t, "", "whoami"); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Fatalf("whoami after logout = %v", err)
	}
}

func TestLoginFailures(t *testing.T) {
	h := newHarness(t)
	h.srv.AddUser("ana", "secret1", auth.RoleUser)

	if _, _, err := h.run(t, "nope\n", "login", "ana", "--password-stdin"); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("bad password = %v", err)
	}
	if _, _, err := h.run(t, "\n", "login", "ana", "--password-stdin"); !errors.Is(err, forms.ErrInvalid) {
		t.Fatalf("empty password = %v", err)
	}
	// Only the rejected exchange reached the backend.
	if n := len(h.srv.RequestIDs()); n != 1 {
		t.Fatalf("backend saw %d requests, want 1", n)
	}
	if _, _, err := h.run(t, "", "whoami"); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Fatalf("whoami = %v", err)
	}
}

func TestRegister(t *testing.T) {
	h := newHarness(t)

	if _, _, err := h.run(t, "abc\n", "register", "bob", "--password-stdin"); !errors.Is(err, forms.ErrInvalid) {
		t.Fatalf("short password = %v", err)
	}
	if _, _, err := h.run(t, "secret1\n", "register", "bob", "--email", "bob.example.com", "--password-stdin"); !errors.Is(err, forms.ErrInvalid) {
		t.Fatalf("bad email = %v", err)
	}
	if n := len(h.srv.RequestIDs()); n != 0 {
		t.Fatalf("invalid forms sent %d requests", n)
	}

	created := decode[api.Created](t, h.mustRun(t, "secret1\n", "register", "bob", "--email", "bob@example.com", "--password-stdin", "-o", "json"))
	if created.UserID == "" {
		t.Fatalf("created = %+v", created)
	}
	if _, _, err := h.run(t, "secret1\n", "register", "bob", "--password-stdin"); !api.IsStatus(err, 400) {
		t.Fatalf("duplicate register = %v", err)
	}

	h.login(t, "bob", "secret1")
	if id := decode[whoami](t, h.mustRun(t, "", "whoami", "-o", "json")); id.Role != auth.RoleUser {
		t.Fatalf("registered role = %q", id.Role)
	}
}

func TestTeams(t *testing.T) {
	h := newHarness(t)
	h.srv.AddUser("ana", "secret1", auth.RoleUser)
	h.srv.AddUser("root", "secret1", auth.RoleAdmin)

	h.login(t, "ana", "secret1")
	if _, _, err := h.run(t, "", "teams", "create", "--name", "Fiat"); !errors.Is(err, session.ErrForbidden) {
		t.Fatalf("create as user = %v", err)
	}
	if _, _, err := h.run(t, "", "teams", "create"); !errors.Is(err, forms.ErrInvalid) {
		t.Fatalf("create without name = %v", err)
	}

	h.login(t, "root", "secret1")
	created := decode[api.Created](t, h.mustRun(t, "", "teams", "create", "--name", "Toyota Gazoo Racing", "--country", "Argentina", "-o", "json"))
	if created.TeamID == "" {
		t.Fatalf("created = %+v", created)
	}

	teams := decode[[]api.Team](t, h.mustRun(t, "", "teams", "list", "-o", "json"))
	if len(teams) != 1 || teams[0].Name != "Toyota Gazoo Racing" || teams[0].BaseCountry != "Argentina" {
		t.Fatalf("teams = %+v", teams)
	}
	if out := h.mustRun(t, "", "teams", "list"); !strings.Contains(out, "Toyota Gazoo Racing") || !strings.Contains(out, "COUNTRY") {
		t.Fatalf("table output = %q", out)
	}

	h.mustRun(t, "", "teams", "delete", created.TeamID)
	if out := h.mustRun(t, "", "teams", "list"); !strings.Contains(out, "(none)") {
		t.Fatalf("after delete = %q", out)
	}
}

func TestPilots(t *testing.T) {
	h := newHarness(t)
	h.srv.AddUser("root", "secret1", auth.RoleAdmin)
	team := h.srv.AddTeam("Toyota Gazoo Racing", "Argentina")
	h.srv.AddPilot("Matías Rossi", team, 163)

	// Listing works without a session.
	pilots := decode[[]api.Pilot](t, h.mustRun(t, "", "pilots", "list", "-o", "json"))
	if len(pilots) != 1 || pilots[0].Team != "Toyota Gazoo Racing" || pilots[0].CarNumber != "163" {
		t.Fatalf("pilots = %+v", pilots)
	}

	h.login(t, "root", "secret1")
	if _, _, err := h.run(t, "", "pilots", "create", "--name", "Bessone", "--car-number", "0"); !errors.Is(err, forms.ErrInvalid) {
		t.Fatalf("bad car number = %v", err)
	}
	created := decode[api.Created](t, h.mustRun(t, "", "pilots", "create", "--name", "Bessone", "--team", "Chevrolet", "--car-number", "22", "-o", "json"))

	out := h.mustRun(t, "", "pilots", "list", "-o", "yaml")
	if !strings.Contains(out, "name: Bessone") || !strings.Contains(out, "car_number: \"22\"") {
		t.Fatalf("yaml output = %q", out)
	}
	h.mustRun(t, "", "pilots", "delete", created.PilotID)
}

func TestAdminUsers(t *testing.T) {
	h := newHarness(t)
	h.srv.AddUser("ana", "secret1", auth.RoleUser)
	h.srv.AddUser("root", "secret1", auth.RoleAdmin)

	if _, _, err := h.run(t, "", "admin", "users", "list"); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Fatalf("list without session = %v", err)
	}
	h.login(t, "ana", "secret1")
	before := len(h.srv.RequestIDs())
	if _, _, err := h.run(t, "", "admin", "users", "list"); !errors.Is(err, session.ErrForbidden) {
		t.Fatalf("list as user = %v", err)
	}
	// Only the start-up whoami was sent.
	if n := len(h.srv.RequestIDs()) - before; n != 1 {
		t.Fatalf("forbidden list sent %d requests", n)
	}

	h.login(t, "root", "secret1")
	created := decode[api.Created](t, h.mustRun(t, "secret1\n", "admin", "users", "create", "carla", "--role", auth.RoleVisitor, "--password-stdin", "-o", "json"))
	if created.UserID == "" {
		t.Fatalf("created = %+v", created)
	}
	if _, _, err := h.run(t, "secret1\n", "admin", "users", "create", "dora", "--role", "racer", "--password-stdin"); !errors.Is(err, forms.ErrInvalid) {
		t.Fatalf("bad role = %v", err)
	}

	out := h.mustRun(t, "", "admin", "users", "list", "-o", "yaml")
	if !strings.Contains(out, "username: carla") || !strings.Contains(out, "role: visitor") {
		t.Fatalf("yaml output = %q", out)
	}

	u := decode[api.User](t, h.mustRun(t, "", "admin", "users", "update", created.UserID, "--role", auth.RoleUser, "--email", "carla@example.com", "-o", "json"))
	if u.Role != auth.RoleUser || u.Email != "carla@example.com" {
		t.Fatalf("updated = %+v", u)
	}
	if _, _, err := h.run(t, "", "admin", "users", "update", created.UserID); err == nil {
		t.Fatal("update without changes succeeded")
	}
	if _, _, err := h.run(t, "", "admin", "users", "update", created.UserID, "--role", "racer"); !errors.Is(err, forms.ErrInvalid) {
		t.Fatalf("update bad role = %v", err)
	}

	got := decode[api.User](t, h.mustRun(t, "", "admin", "users", "get", created.UserID, "-o", "json"))
	if got.Username != "carla" {
		t.Fatalf("get = %+v", got)
	}
	h.mustRun(t, "", "admin", "users", "delete", created.UserID)
	if _, _, err := h.run(t, "", "admin", "users", "get", created.UserID); !api.IsStatus(err, 404) {
		t.Fatalf("get deleted = %v", err)
	}
}

func TestSessionTiers(t *testing.T) {
	h := newHarness(t)
	anaID := h.srv.AddUser("ana", "secret1", auth.RoleUser)
	rootID := h.srv.AddUser("root", "secret1", auth.RoleAdmin)
	h.login(t, "ana", "secret1")

	// Unreachable whoami keeps the cached identity.
	h.srv.FailMe(503)
	if id := decode[whoami](t, h.mustRun(t, "", "whoami", "-o", "json")); id.Username != "ana" || id.Source != string(session.SourceCache) {
		t.Fatalf("whoami while backend fails = %+v", id)
	}
	h.srv.FailMe(0)

	// The server's answer wins over the cache.
	h.srv.SetRole(anaID, auth.RoleAdmin)
	if id := decode[whoami](t, h.mustRun(t, "", "whoami", "-o", "json")); !id.Admin || id.Source != string(session.SourceServer) {
		t.Fatalf("whoami after promotion = %+v", id)
	}

	// An authoritative rejection clears the session.
	admin, err := api.New(h.srv.URL, api.WithTokenSource(api.StaticToken(h.srv.Token(rootID))))
	if err != nil {
		t.Fatalf("api.New: %v", err)
	}
	if err := admin.DeleteUser(context.Background(), anaID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	_, stderr, err := h.run(t, "", "whoami")
	if !errors.Is(err, session.ErrNotAuthenticated) || !strings.Contains(stderr, "paddock login") {
		t.Fatalf("whoami after deletion = %v, stderr %q", err, stderr)
	}
	h.srv.FailMe(503)
	if _, _, err := h.run(t, "", "whoami"); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Fatalf("cleared session came back: %v", err)
	}
}

func TestEventsSchema(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun(t, "", "events", "schema")
	if !strings.Contains(out, "TC2000 Fantasy event") || !strings.Contains(out, `"pilot_id"`) {
		t.Fatalf("schema = %q", out)
	}
	if n := len(h.srv.RequestIDs()); n != 0 {
		t.Fatalf("schema sent %d requests", n)
	}
}

func TestWatch(t *testing.T) {
	h := newHarness(t)
	t.Setenv("PADDOCK_SSE_RETRY", "20ms")

	ctx, cancel := context.WithCancel(context.Background())
	var stdout, stderr lockedBuffer
	done := make(chan error, 1)
	go func() {
		done <- h.runContext(ctx, "", &stdout, &stderr, "watch", "--refresh", "-o", "json")
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(stdout.String(), `"kind":"pilot_created"`) {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("no event printed; stdout %q stderr %q", stdout.String(), stderr.String())
		}
		h.srv.Publish(context.Background(), map[string]string{"type": "pilot_created", "pilot_id": "p1", "name": "Rossi"})
		time.Sleep(100 * time.Millisecond)
	}
	for !strings.Contains(stderr.String(), "pilots reloaded: 0") {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("pilots never reloaded; stderr %q", stderr.String())
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}

	var line watchLine
	first := strings.SplitN(stdout.String(), "\n", 2)[0]
	if err := json.Unmarshal([]byte(first), &line); err != nil {
		t.Fatalf("decode %q: %v", first, err)
	}
	if line.ID == "" || line.Name != "Rossi" || line.PilotID != "p1" {
		t.Fatalf("line = %+v", line)
	}
	if !strings.Contains(stderr.String(), "connected") {
		t.Fatalf("no status output: %q", stderr.String())
	}
}
