package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ggoodman/paddock/auth"
	"github.com/ggoodman/paddock/internal/logctx"
	"github.com/ggoodman/paddock/storage"
)

// Storage keys, shared with the browser front-end's localStorage layout.
const (
	TokenKey    = "tc2000_token"
	IdentityKey = "tc2000_user"
)

var (
	// ErrNotAuthenticated is returned when an operation needs a session and
	// there is none.
	ErrNotAuthenticated = errors.New("session: not authenticated")
	// ErrForbidden is returned by RequireAdmin for a non-admin identity.
	ErrForbidden = errors.New("session: admin role required")
	// ErrNoIssuer is returned by Login when the manager has no auth.Issuer.
	ErrNoIssuer = errors.New("session: no credential issuer configured")
	// ErrNoToken is returned by Login when the backend accepted the
	// credentials but handed back no token.
	ErrNoToken = errors.New("session: login response carried no token")
	// ErrWatchUnsupported is returned by Watch when the store cannot report
	// external writes.
	ErrWatchUnsupported = errors.New("session: store does not support watching")
)

// Source records which tier produced the current identity.
type Source string

const (
	SourceNone   Source = ""
	SourceServer Source = "server"
	SourceCache  Source = "cache"
	SourceClaims Source = "claims"
	SourceLogin  Source = "login"
)

// State is a snapshot of the session. Token "" means absent; a nil Identity
// means absent.
type State struct {
	Token    string
	Identity *auth.Identity
	Source   Source
	// ReloginRequired is set after the backend authoritatively rejected the
	// stored token.
	ReloginRequired bool
}

// IsAdmin reports whether the snapshot carries the admin role.
func (s State) IsAdmin() bool { return auth.IsAdmin(s.Identity) }

// Authenticated reports whether the snapshot holds a bearer token.
func (s State) Authenticated() bool { return s.Token != "" }

func (s State) clone() State {
	if s.Identity != nil {
		id := *s.Identity
		s.Identity = &id
	}
	return s
}

// Manager owns the session state for one storage profile. It is safe for
// concurrent use.
type Manager struct {
	store   storage.Storage
	authn   auth.Authenticator
	issuer  auth.Issuer
	profile string
	log     *slog.Logger

	mu    sync.Mutex
	state State
	// gen advances on Login, Logout and reloads that change the state. A
	// resolution that started under an older generation must not publish its
	// result.
	gen uint64
}

// Option customizes a Manager.
type Option func(*Manager)

// WithIssuer enables Login.
func WithIssuer(i auth.Issuer) Option {
	return func(m *Manager) {
		if i != nil {
			m.issuer = i
		}
	}
}

// WithProfile selects the storage profile holding the session keys.
func WithProfile(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.profile = name
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewManager returns a Manager with empty state. Call Resolve to hydrate it.
func NewManager(store storage.Storage, authn auth.Authenticator, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		authn:   authn,
		profile: storage.DefaultProfile,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = logctx.Wrap(m.log)
	return m
}

// State returns a copy of the current session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// IsAdmin reports whether the current identity carries the admin role.
func (m *Manager) IsAdmin() bool {
	return m.State().IsAdmin()
}

// RequireAdmin is the client-side admin gate. It only decides whether to
// offer admin functionality; the backend remains the authorization boundary.
func (m *Manager) RequireAdmin() error {
	st := m.State()
	if st.Identity == nil {
		return ErrNotAuthenticated
	}
	if !st.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

// Token returns the current bearer token, or ErrNotAuthenticated.
func (m *Manager) Token(ctx context.Context) (string, error) {
	if tok := m.State().Token; tok != "" {
		return tok, nil
	}
	return "", ErrNotAuthenticated
}

// Resolve hydrates the session from storage and establishes the identity
// using, in order of precedence, the whoami endpoint, the cached identity and
// the token's unverified claims.
//
// Backend and decode failures never surface as errors: they degrade to the
// best identity available. The returned error is limited to context
// cancellation and storage write failures; the returned State is valid in
// every case.
func (m *Manager) Resolve(ctx context.Context) (State, error) {
	m.mu.Lock()
	gen := m.gen
	fallback := m.state.clone()
	m.mu.Unlock()

	tok, cached := m.load(ctx, fallback)

	if tok == "" {
		next := State{Identity: cached}
		if cached != nil {
			next.Source = SourceCache
		}
		return m.publish(ctx, gen, next, false)
	}

	id, err := m.authn.WhoAmI(ctx, tok)
	switch {
	case err == nil:
		next := State{Token: tok, Identity: &id, Source: SourceServer}
		return m.publish(ctx, gen, next, false)

	case errors.Is(err, auth.ErrUnauthorized):
		m.log.InfoContext(ctx, "session.resolve.rejected")
		return m.publish(ctx, gen, State{ReloginRequired: true}, true)

	case ctx.Err() != nil:
		return m.State(), ctx.Err()
	}

	m.log.WarnContext(ctx, "session.resolve.indeterminate", slog.String("err", err.Error()))

	next := State{Token: tok}
	if cached != nil {
		next.Identity = cached
		next.Source = SourceCache
	} else if claims := DecodeClaims(tok); claims != nil {
		next.Identity = claims
		next.Source = SourceClaims
	}
	return m.publish(ctx, gen, next, false)
}

// Login exchanges credentials for a token, seeds the identity from the
// token's claims (or the role echoed by the backend), persists it and then
// runs Resolve so the server's view wins when reachable. A failed login leaves
// the session untouched.
func (m *Manager) Login(ctx context.Context, username, password string) (State, error) {
	if m.issuer == nil {
		return m.State(), ErrNoIssuer
	}

	grant, err := m.issuer.Login(ctx, username, password)
	if err != nil {
		m.log.InfoContext(ctx, "session.login.fail", slog.String("err", err.Error()))
		return m.State(), err
	}
	if grant.Token == "" {
		return m.State(), ErrNoToken
	}

	role := grant.Role
	if c, ok := parseClaims(grant.Token); ok && c.role != "" {
		role = c.role
	}
	if role == "" {
		role = auth.RoleUser
	}
	seeded := State{
		Token:    grant.Token,
		Identity: &auth.Identity{Username: username, Role: role},
		Source:   SourceLogin,
	}

	m.mu.Lock()
	m.gen++
	m.state = seeded
	err = m.persistLocked(ctx, seeded)
	m.mu.Unlock()
	if err != nil {
		return seeded.clone(), err
	}

	m.log.InfoContext(m.sessionCtx(ctx, seeded), "session.login.ok")
	return m.Resolve(ctx)
}

// Logout clears both storage keys and the in-memory state unconditionally.
// The in-memory state is cleared even when storage fails.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	m.state = State{}
	if err := m.clearLocked(ctx); err != nil {
		return err
	}
	m.log.InfoContext(ctx, "session.logout.ok")
	return nil
}

// Reload replaces the in-memory state with whatever storage holds, without
// contacting the backend. It is what Watch runs on external writes. Storage
// that matches the in-memory token and identity leaves the state, and any
// resolution in flight, untouched.
func (m *Manager) Reload(ctx context.Context) (State, error) {
	st, _, err := m.reload(ctx)
	return st, err
}

func (m *Manager) reload(ctx context.Context) (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, err := m.readToken(ctx)
	if err != nil {
		return m.state.clone(), false, err
	}
	cached, err := m.readIdentity(ctx)
	if err != nil {
		m.log.WarnContext(ctx, "session.reload.identity.fail", slog.String("err", err.Error()))
	}

	if tok == m.state.Token && sameIdentity(cached, m.state.Identity) {
		return m.state.clone(), false, nil
	}

	next := State{Token: tok, Identity: cached}
	if cached != nil {
		next.Source = SourceCache
	}
	m.gen++
	m.state = next
	return next.clone(), true, nil
}

// Watch reloads the session whenever another process writes the store. It
// blocks until ctx is done and returns ErrWatchUnsupported when the store is
// not a storage.Watcher. onChange, when non-nil, receives each reloaded state
// that differs from the one held in memory.
func (m *Manager) Watch(ctx context.Context, onChange func(State)) error {
	w, ok := m.store.(storage.Watcher)
	if !ok {
		return ErrWatchUnsupported
	}
	return w.Watch(ctx, func(string) {
		st, changed, err := m.reload(ctx)
		if err != nil {
			m.log.WarnContext(ctx, "session.reload.fail", slog.String("err", err.Error()))
			return
		}
		if changed && onChange != nil {
			onChange(st)
		}
	})
}

func sameIdentity(a, b *auth.Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// publish installs next if no Login/Logout/Reload happened since gen was
// captured, and persists it. wipe clears storage instead of writing.
func (m *Manager) publish(ctx context.Context, gen uint64, next State, wipe bool) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != gen {
		m.log.DebugContext(ctx, "session.resolve.stale")
		return m.state.clone(), nil
	}

	m.state = next
	var err error
	switch {
	case wipe:
		m.gen++
		err = m.clearLocked(ctx)
	case next.Identity != nil:
		err = m.persistLocked(ctx, next)
	}
	if err == nil {
		m.log.DebugContext(m.sessionCtx(ctx, next), "session.resolve.ok")
	}
	return next.clone(), err
}

// load reads token and cached identity from storage. A read failure falls
// back to the in-memory values so a flaky store never blocks resolution.
func (m *Manager) load(ctx context.Context, fallback State) (string, *auth.Identity) {
	tok, err := m.readToken(ctx)
	if err != nil {
		m.log.WarnContext(ctx, "session.load.token.fail", slog.String("err", err.Error()))
		tok = fallback.Token
	}
	cached, err := m.readIdentity(ctx)
	if err != nil {
		m.log.WarnContext(ctx, "session.load.identity.fail", slog.String("err", err.Error()))
		cached = fallback.Identity
	}
	return tok, cached
}

func (m *Manager) readToken(ctx context.Context) (string, error) {
	item, err := m.store.Get(ctx, TokenKey, storage.WithProfile(m.profile))
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	if item == nil {
		return "", nil
	}
	return string(item.Data), nil
}

// readIdentity treats an unparsable or role-less cached record as absent.
func (m *Manager) readIdentity(ctx context.Context) (*auth.Identity, error) {
	item, err := m.store.Get(ctx, IdentityKey, storage.WithProfile(m.profile))
	if err != nil {
		return nil, fmt.Errorf("read identity: %w", err)
	}
	if item == nil || len(item.Data) == 0 {
		return nil, nil
	}
	var id auth.Identity
	if err := json.Unmarshal(item.Data, &id); err != nil {
		m.log.WarnContext(ctx, "session.identity.decode.fail", slog.String("err", err.Error()))
		return nil, nil
	}
	if id.Role == "" {
		return nil, nil
	}
	return &id, nil
}

func (m *Manager) persistLocked(ctx context.Context, st State) error {
	if st.Token != "" {
		if err := m.store.Set(ctx, TokenKey, []byte(st.Token), storage.WithProfile(m.profile)); err != nil {
			return fmt.Errorf("persist token: %w", err)
		}
	}
	if st.Identity != nil {
		b, err := json.Marshal(st.Identity)
		if err != nil {
			return fmt.Errorf("encode identity: %w", err)
		}
		if err := m.store.Set(ctx, IdentityKey, b, storage.WithProfile(m.profile)); err != nil {
			return fmt.Errorf("persist identity: %w", err)
		}
	}
	return nil
}

func (m *Manager) clearLocked(ctx context.Context) error {
	var errs []error
	for _, key := range []string{TokenKey, IdentityKey} {
		if err := m.store.Delete(ctx, storage.WithProfile(m.profile), storage.WithKey(key)); err != nil {
			errs = append(errs, fmt.Errorf("clear %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) sessionCtx(ctx context.Context, st State) context.Context {
	sd := &logctx.SessionData{Profile: m.profile, Source: string(st.Source)}
	if st.Identity != nil {
		sd.Username = st.Identity.Username
		sd.Role = st.Identity.Role
	}
	return logctx.WithSessionData(ctx, sd)
}
