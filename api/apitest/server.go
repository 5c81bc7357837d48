// Package apitest runs an in-process fake of the TC2000 Fantasy backend for
// tests: bcrypt-hashed users, HS256 bearer tokens, role enforcement and a
// server-sent event stream fed by a broker.
package apitest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/paddock/broker"
	"github.com/ggoodman/paddock/broker/memory"
	"github.com/ggoodman/paddock/internal/logctx"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// EventsTopic is the broker topic behind GET /sse.
const EventsTopic = "events"

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
)

type user struct {
	User
	hash []byte
}

// User mirrors a backend account row.
type User struct {
	ID        string     `json:"_id"`
	Username  string     `json:"username"`
	Email     string     `json:"email,omitempty"`
	Role      string     `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login"`
}

// Team mirrors a backend team row.
type Team struct {
	ID          string    `json:"_id"`
	Name        string    `json:"name"`
	BaseCountry string    `json:"base_country"`
	CreatedAt   time.Time `json:"created_at"`
}

// Pilot mirrors a backend pilot row.
type Pilot struct {
	ID           string         `json:"_id"`
	Name         string         `json:"name"`
	Team         string         `json:"team,omitempty"`
	TeamID       string         `json:"team_id,omitempty"`
	CarNumber    any            `json:"car_number,omitempty"`
	CurrentScore float64        `json:"current_score"`
	Stats        map[string]int `json:"stats,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

type tokenClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Server is a running fake backend. The zero value is not usable; call
// NewServer.
type Server struct {
	*httptest.Server

	secret    []byte
	tokenTTL  time.Duration
	cost      int
	broker    broker.Broker
	heartbeat time.Duration
	retryHint time.Duration
	log       *slog.Logger

	mu         sync.Mutex
	seq        int
	users      map[string]*user
	teams      map[string]*Team
	pilots     map[string]*Pilot
	meStatus   int
	requestIDs []string
	lastIDs    []string
	streams    map[int]context.CancelFunc
	streamSeq  int
}

// Option customizes a Server.
type Option func(*Server)

// WithSecret sets the HS256 signing key.
func WithSecret(secret string) Option {
	return func(s *Server) { s.secret = []byte(secret) }
}

// WithTokenTTL sets the lifetime of issued tokens.
func WithTokenTTL(d time.Duration) Option {
	return func(s *Server) { s.tokenTTL = d }
}

// WithBroker replaces the in-memory event broker.
func WithBroker(b broker.Broker) Option {
	return func(s *Server) {
		if b != nil {
			s.broker = b
		}
	}
}

// WithHeartbeat makes every stream emit a heartbeat event at interval d.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) { s.heartbeat = d }
}

// WithRetryHint makes every stream open with a "retry:" field.
func WithRetryHint(d time.Duration) Option {
	return func(s *Server) { s.retryHint = d }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer starts a fake backend. Call Close when done.
func NewServer(opts ...Option) *Server {
	s := &Server{
		secret:   []byte("supersecretkey"),
		tokenTTL: 8 * time.Hour,
		cost:     bcrypt.MinCost,
		log:      slog.Default(),
		users:    make(map[string]*user),
		teams:    make(map[string]*Team),
		pilots:   make(map[string]*Pilot),
		streams:  make(map[int]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.broker == nil {
		s.broker = memory.New(0)
	}
	s.log = logctx.Wrap(s.log)
	s.Server = httptest.NewServer(s.routes())
	return s
}

// Close drops open streams and shuts the server down.
func (s *Server) Close() {
	s.DropStreams()
	s.Server.Close()
}

func (s *Server) nextID() string {
	s.seq++
	return fmt.Sprintf("%024x", s.seq)
}

// AddUser creates an account directly and returns its ID.
func (s *Server) AddUser(username, password, role string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID()
	s.users[id] = &user{
		User: User{ID: id, Username: username, Role: role, CreatedAt: time.Now().UTC()},
		hash: hash,
	}
	return id
}

// SetRole changes an account's role in place.
func (s *Server) SetRole(userID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.Role = role
	}
}

// AddTeam creates a team directly and returns its ID.
func (s *Server) AddTeam(name, country string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID()
	s.teams[id] = &Team{ID: id, Name: name, BaseCountry: country, CreatedAt: time.Now().UTC()}
	return id
}

// AddPilot creates a pilot bound to teamID and returns its ID.
func (s *Server) AddPilot(name, teamID string, carNumber int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID()
	s.pilots[id] = &Pilot{
		ID:        id,
		Name:      name,
		TeamID:    teamID,
		CarNumber: carNumber,
		Stats:     map[string]int{"podiums": 0, "wins": 0, "DNF": 0},
		CreatedAt: time.Now().UTC(),
	}
	return id
}

// Token mints a valid token for userID the same way POST /login does.
func (s *Server) Token(userID string) string {
	s.mu.Lock()
	u, ok := s.users[userID]
	s.mu.Unlock()
	if !ok {
		panic("apitest: unknown user " + userID)
	}
	tok, err := s.sign(u.User, time.Now())
	if err != nil {
		panic(err)
	}
	return tok
}

// ExpiredToken mints a token for userID that expired an hour ago.
func (s *Server) ExpiredToken(userID string) string {
	s.mu.Lock()
	u := s.users[userID]
	s.mu.Unlock()
	tok, err := s.sign(u.User, time.Now().Add(-s.tokenTTL-time.Hour))
	if err != nil {
		panic(err)
	}
	return tok
}

// FailMe makes GET /me answer with status for every request; 0 restores
// normal behavior.
func (s *Server) FailMe(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meStatus = status
}

// Publish sends v to every stream subscriber and returns its event ID.
func (s *Server) Publish(ctx context.Context, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return s.broker.Publish(ctx, EventsTopic, b)
}

// PublishRaw sends data verbatim, which lets tests feed malformed payloads.
func (s *Server) PublishRaw(ctx context.Context, data []byte) (string, error) {
	return s.broker.Publish(ctx, EventsTopic, data)
}

// RequestIDs returns the X-Request-ID values received so far.
func (s *Server) RequestIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requestIDs...)
}

// StreamConnects returns the Last-Event-ID header of every /sse connection,
// in order. Its length is the number of connections made.
func (s *Server) StreamConnects() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lastIDs...)
}

// DropStreams cuts every open /sse connection.
func (s *Server) DropStreams() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cancel := range s.streams {
		cancel()
		delete(s.streams, id)
	}
}

func (s *Server) sign(u User, issued time.Time) (string, error) {
	claims := tokenClaims{
		UserID:   u.ID,
		Username: u.Username,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(s.tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Server) verify(token string) (*tokenClaims, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	return &claims, nil
}
