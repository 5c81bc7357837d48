package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ggoodman/paddock/api"
	"github.com/ggoodman/paddock/api/apitest"
	"github.com/ggoodman/paddock/auth"
	"github.com/ggoodman/paddock/session"
	"github.com/ggoodman/paddock/storage/memory"
)

func newClient(t *testing.T, srv *apitest.Server, opts ...api.Option) *api.Client {
	t.Helper()
	c, err := api.New(srv.URL, opts...)
	if err != nil {
		t.Fatalf("api.New: %v", err)
	}
	return c
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:5000", "ftp://example.com", "http://[::1"} {
		if _, err := api.New(raw); err == nil {
			t.Fatalf("api.New(%q) should fail", raw)
		}
	}
}

func TestURLJoining(t *testing.T) {
	c, err := api.New("http://localhost:5000/")
	if err != nil {
		t.Fatalf("api.New: %v", err)
	}
	if got := c.URL("/sse"); got != "http://localhost:5000/sse" {
		t.Fatalf("URL = %q", got)
	}
	if got := c.BaseURL(); got != "http://localhost:5000" {
		t.Fatalf("BaseURL = %q", got)
	}
}

func TestWhoAmI(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	bob := srv.AddUser("bob", "secret1", auth.RoleAdmin)
	c := newClient(t, srv)

	id, err := c.WhoAmI(context.Background(), srv.Token(bob))
	if err != nil {
		t.Fatalf("WhoAmI: %v", err)
	}
	if id != (auth.Identity{Username: "bob", Role: "admin"}) {
		t.Fatalf("identity = %+v", id)
	}
}

func TestWhoAmIRejections(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	ana := srv.AddUser("ana", "secret1", auth.RoleUser)
	c := newClient(t, srv)

	other := apitest.NewServer(apitest.WithSecret("other"))
	defer other.Close()
	forged := other.AddUser("ana", "secret1", auth.RoleAdmin)
	if forged != ana {
		t.Fatalf("fake servers should assign the same first id, got %s and %s", ana, forged)
	}

	cases := map[string]string{
		"garbage": "abc",
		"expired": srv.ExpiredToken(ana),
		"forged":  other.Token(forged),
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.WhoAmI(context.Background(), tok)
			if !errors.Is(err, auth.ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
			if errors.Is(err, auth.ErrUnavailable) {
				t.Fatal("a rejection must not also be indeterminate")
			}
		})
	}
}

func TestWhoAmIStatusMapping(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	ana := srv.AddUser("ana", "secret1", auth.RoleUser)
	c := newClient(t, srv)
	tok := srv.Token(ana)

	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, auth.ErrUnauthorized},
		{http.StatusForbidden, auth.ErrUnauthorized},
		{http.StatusInternalServerError, auth.ErrUnavailable},
		{http.StatusBadGateway, auth.ErrUnavailable},
		{http.StatusNotFound, auth.ErrUnavailable},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv.FailMe(tc.status)
			_, err := c.WhoAmI(context.Background(), tok)
			if !errors.Is(err, tc.want) {
				t.Fatalf("status %d: got %v, want %v", tc.status, err, tc.want)
			}
			if !api.IsStatus(err, tc.status) {
				t.Fatalf("status %d not preserved in %v", tc.status, err)
			}
		})
	}
}

func TestWhoAmIUnreachable(t *testing.T) {
	srv := apitest.NewServer()
	c := newClient(t, srv)
	srv.Close()

	_, err := c.WhoAmI(context.Background(), "tok")
	if !errors.Is(err, auth.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestWhoAmIWrongContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html>login</html>`))
	}))
	defer srv.Close()

	c, err := api.New(srv.URL)
	if err != nil {
		t.Fatalf("api.New: %v", err)
	}
	_, err = c.WhoAmI(context.Background(), "tok")
	if !errors.Is(err, auth.ErrUnavailable) || !errors.Is(err, api.ErrUnexpectedContentType) {
		t.Fatalf("expected unavailable content-type error, got %v", err)
	}
}

func TestWhoAmIMissingUsername(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"role":"admin"}`))
	}))
	defer srv.Close()

	c, _ := api.New(srv.URL)
	if _, err := c.WhoAmI(context.Background(), "tok"); !errors.Is(err, auth.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	srv.AddUser("bob", "secret1", auth.RoleAdmin)
	c := newClient(t, srv)

	grant, err := c.Login(context.Background(), "bob", "secret1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims := session.DecodeClaims(grant.Token)
	if claims == nil || claims.Role != "admin" || claims.Username != "bob" {
		t.Fatalf("token claims = %+v", claims)
	}

	_, err = c.Login(context.Background(), "bob", "wrong")
	if !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	var se *api.StatusError
	if !errors.As(err, &se) || se.Message != "Invalid credentials" {
		t.Fatalf("expected backend message, got %v", err)
	}
}

func TestRegister(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	c := newClient(t, srv)
	ctx := context.Background()

	created, err := c.Register(ctx, api.Registration{Username: "ana", Email: "ana@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if created.UserID == "" || created.ID() != created.UserID {
		t.Fatalf("created = %+v", created)
	}

	grant, err := c.Login(ctx, "ana", "secret1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if id, err := c.WhoAmI(ctx, grant.Token); err != nil || id.Role != auth.RoleUser {
		t.Fatalf("registered role = %+v, %v", id, err)
	}

	_, err = c.Register(ctx, api.Registration{Username: "ana", Password: "secret1"})
	if !api.IsStatus(err, http.StatusBadRequest) {
		t.Fatalf("expected 400 for duplicate, got %v", err)
	}
	var se *api.StatusError
	if !errors.As(err, &se) || se.Message != "Username exists" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestTeams(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	admin := srv.AddUser("root", "secret1", auth.RoleAdmin)
	srv.AddTeam("Honda Racing Team", "Argentina")
	c := newClient(t, srv, api.WithTokenSource(api.StaticToken(srv.Token(admin))))
	ctx := context.Background()

	created, err := c.CreateTeam(ctx, api.NewTeam{Name: "Fiat", BaseCountry: "Argentina"})
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	teams, err := c.Teams(ctx)
	if err != nil {
		t.Fatalf("Teams: %v", err)
	}
	if len(teams) != 2 || teams[1].Name != "Fiat" || teams[1].ID != created.TeamID {
		t.Fatalf("teams = %+v", teams)
	}

	if err := c.DeleteTeam(ctx, created.TeamID); err != nil {
		t.Fatalf("DeleteTeam: %v", err)
	}
	if err := c.DeleteTeam(ctx, created.TeamID); !api.IsStatus(err, http.StatusNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestMutationsNeedAdmin(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	ana := srv.AddUser("ana", "secret1", auth.RoleUser)
	ctx := context.Background()

	anon := newClient(t, srv)
	if _, err := anon.CreateTeam(ctx, api.NewTeam{Name: "x"}); !errors.Is(err, api.ErrNoTokenSource) {
		t.Fatalf("expected ErrNoTokenSource, got %v", err)
	}
	if _, err := anon.Teams(ctx); err != nil {
		t.Fatalf("listing teams is public: %v", err)
	}

	user := newClient(t, srv, api.WithTokenSource(api.StaticToken(srv.Token(ana))))
	if _, err := user.CreateTeam(ctx, api.NewTeam{Name: "x"}); !api.IsStatus(err, http.StatusForbidden) {
		t.Fatalf("expected 403, got %v", err)
	}
	if _, err := user.Users(ctx); !api.IsStatus(err, http.StatusForbidden) {
		t.Fatalf("expected 403, got %v", err)
	}

	bad := newClient(t, srv, api.WithTokenSource(api.StaticToken("abc")))
	if err := bad.DeletePilot(ctx, "1"); !api.IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("expected 401, got %v", err)
	}

	failing := newClient(t, srv, api.WithTokenSource(api.TokenSourceFunc(func(context.Context) (string, error) {
		return "", session.ErrNotAuthenticated
	})))
	if _, err := failing.CreatePilot(ctx, api.NewPilot{Name: "x"}); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Fatalf("token source error not surfaced: %v", err)
	}
}

func TestPilots(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	admin := srv.AddUser("root", "secret1", auth.RoleAdmin)
	toyota := srv.AddTeam("Toyota Gazoo Racing", "Argentina")
	srv.AddPilot("Matías Rossi", toyota, 163)
	c := newClient(t, srv, api.WithTokenSource(api.StaticToken(srv.Token(admin))))
	ctx := context.Background()

	created, err := c.CreatePilot(ctx, api.NewPilot{Name: "Figgo Bessone", Team: "Chevrolet", CarNumber: "22"})
	if err != nil {
		t.Fatalf("CreatePilot: %v", err)
	}

	pilots, err := c.Pilots(ctx)
	if err != nil {
		t.Fatalf("Pilots: %v", err)
	}
	if len(pilots) != 2 {
		t.Fatalf("pilots = %+v", pilots)
	}
	rossi, bessone := pilots[0], pilots[1]
	if rossi.Team != "Toyota Gazoo Racing" || rossi.CarNumber != "163" || rossi.Stats == nil {
		t.Fatalf("seeded pilot = %+v", rossi)
	}
	if bessone.ID != created.PilotID || bessone.Team != "Chevrolet" || bessone.CarNumber != "22" {
		t.Fatalf("created pilot = %+v", bessone)
	}

	if err := c.DeletePilot(ctx, created.PilotID); err != nil {
		t.Fatalf("DeletePilot: %v", err)
	}
}

func TestAdminUsers(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	admin := srv.AddUser("root", "secret1", auth.RoleAdmin)
	c := newClient(t, srv, api.WithTokenSource(api.StaticToken(srv.Token(admin))))
	ctx := context.Background()

	created, err := c.CreateUser(ctx, api.Registration{Username: "ana", Password: "secret1"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	u, err := c.User(ctx, created.UserID)
	if err != nil {
		t.Fatalf("User: %v", err)
	}
	if u.Username != "ana" || u.Role != auth.RoleUser {
		t.Fatalf("user = %+v", u)
	}

	role, email := auth.RoleAdmin, "ana@example.com"
	u, err = c.UpdateUser(ctx, created.UserID, api.UserUpdate{Role: &role, Email: &email})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if u.Role != auth.RoleAdmin || u.Email != email {
		t.Fatalf("updated = %+v", u)
	}

	users, err := c.Users(ctx)
	if err != nil || len(users) != 2 {
		t.Fatalf("Users = %+v, %v", users, err)
	}

	if err := c.DeleteUser(ctx, created.UserID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := c.User(ctx, created.UserID); !api.IsStatus(err, http.StatusNotFound) {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestRequestIDs(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	c := newClient(t, srv)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Teams(ctx); err != nil {
			t.Fatalf("Teams: %v", err)
		}
	}
	ids := srv.RequestIDs()
	seen := map[string]bool{}
	for _, id := range ids {
		if id == "" || seen[id] {
			t.Fatalf("request ids not unique: %v", ids)
		}
		seen[id] = true
	}
}

func TestCarNumberJSON(t *testing.T) {
	cases := map[string]api.CarNumber{
		`163`:    "163",
		`"12"`:   "12",
		`" 7 "`:  "7",
		`null`:   "",
		`"A1"`:   "A1",
		`7.5`:    "7.5",
		`1e2`:    "1e2",
		`-3`:     "-3",
		`"0163"`: "0163",
	}
	for in, want := range cases {
		var got api.CarNumber
		if err := json.Unmarshal([]byte(in), &got); err != nil {
			t.Fatalf("unmarshal %s: %v", in, err)
		}
		if got != want {
			t.Fatalf("unmarshal %s = %q, want %q", in, got, want)
		}
	}

	b, _ := json.Marshal(api.NewPilot{Name: "x", CarNumber: "22"})
	if string(b) != `{"name":"x","team":"","car_number":22}` {
		t.Fatalf("marshal numeric = %s", b)
	}
	b, _ = json.Marshal(api.NewPilot{Name: "x", CarNumber: "A1"})
	if string(b) != `{"name":"x","team":"","car_number":"A1"}` {
		t.Fatalf("marshal string = %s", b)
	}
}

func TestSessionAgainstBackend(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	bob := srv.AddUser("bob", "secret1", auth.RoleUser)

	store, err := memory.New(0)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	defer store.Close()

	c := newClient(t, srv)
	m := session.NewManager(store, c, session.WithIssuer(c))
	ctx := context.Background()

	st, err := m.Login(ctx, "bob", "secret1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if st.Source != session.SourceServer || st.IsAdmin() {
		t.Fatalf("after login: %+v", st)
	}

	// Promotion on the server wins over the cached "user" role.
	srv.SetRole(bob, auth.RoleAdmin)
	if st, _ = m.Resolve(ctx); !st.IsAdmin() {
		t.Fatalf("server role not applied: %+v", st)
	}

	// A backend outage keeps the cached identity.
	srv.FailMe(http.StatusServiceUnavailable)
	if st, _ = m.Resolve(ctx); !st.IsAdmin() || st.Source != session.SourceCache {
		t.Fatalf("outage dropped the cache: %+v", st)
	}
	srv.FailMe(0)

	// Deleting the account makes the token unusable.
	authed := newClient(t, srv, api.WithTokenSource(api.StaticToken(srv.Token(srv.AddUser("root", "secret1", auth.RoleAdmin)))))
	if err := authed.DeleteUser(ctx, bob); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	st, err = m.Resolve(ctx)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !st.ReloginRequired || st.Token != "" || st.Identity != nil {
		t.Fatalf("expected cleared session, got %+v", st)
	}
}
