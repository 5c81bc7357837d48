package apitest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/paddock/internal/logctx"
	"golang.org/x/crypto/bcrypt"
)

type claimsKey struct{}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /me", s.requireAuth("", s.handleMe))
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /register", s.handleRegister)

	mux.HandleFunc("GET /teams", s.handleListTeams)
	mux.HandleFunc("POST /teams", s.requireAuth("admin", s.handleCreateTeam))
	mux.HandleFunc("DELETE /teams/{id}", s.requireAuth("admin", s.handleDeleteTeam))

	mux.HandleFunc("GET /pilots", s.handleListPilots)
	mux.HandleFunc("POST /pilots", s.requireAuth("admin", s.handleCreatePilot))
	mux.HandleFunc("DELETE /pilots/{id}", s.requireAuth("admin", s.handleDeletePilot))

	mux.HandleFunc("GET /admin/users", s.requireAuth("admin", s.handleListUsers))
	mux.HandleFunc("POST /admin/users", s.requireAuth("admin", s.handleCreateUser))
	mux.HandleFunc("GET /admin/users/{id}", s.requireAuth("admin", s.handleGetUser))
	mux.HandleFunc("PUT /admin/users/{id}", s.requireAuth("admin", s.handleUpdateUser))
	mux.HandleFunc("DELETE /admin/users/{id}", s.requireAuth("admin", s.handleDeleteUser))

	mux.HandleFunc("GET /sse", s.handleSSE)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-ID")
		s.mu.Lock()
		s.requestIDs = append(s.requestIDs, rid)
		s.mu.Unlock()

		ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{RequestID: rid, Method: r.Method, Path: r.URL.Path})
		s.log.DebugContext(ctx, "apitest.request")
		mux.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody reads a JSON request body. It answers the request itself and
// returns false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// requireAuth enforces a valid bearer token and, when role is set, that the
// token's role matches it.
func (s *Server) requireAuth(role string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "Missing token")
			return
		}
		claims, err := s.verify(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			s.log.InfoContext(r.Context(), "apitest.auth.fail", slog.String("err", err.Error()))
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if role != "" && claims.Role != role {
			writeError(w, http.StatusForbidden, "Insufficient role")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	}
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(claimsKey{}).(*tokenClaims)

	s.mu.Lock()
	status := s.meStatus
	u, ok := s.users[claims.UserID]
	var out map[string]string
	if ok {
		out = map[string]string{"username": u.Username, "role": u.Role}
	}
	s.mu.Unlock()

	if status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "User no longer exists")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type credentials struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if !decodeBody(w, r, &in) {
		return
	}

	s.mu.Lock()
	var found *user
	for _, u := range s.users {
		if u.Username == in.Username {
			found = u
			break
		}
	}
	s.mu.Unlock()

	if found == nil || bcrypt.CompareHashAndPassword(found.hash, []byte(in.Password)) != nil {
		s.log.InfoContext(r.Context(), "apitest.login.fail", slog.String("username", in.Username))
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	now := time.Now().UTC()
	s.mu.Lock()
	found.LastLogin = &now
	snapshot := found.User
	s.mu.Unlock()

	tok, err := s.sign(snapshot, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": tok})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if !decodeBody(w, r, &in) {
		return
	}
	s.createUser(w, in)
}

func (s *Server) createUser(w http.ResponseWriter, in credentials) {
	if in.Username == "" || in.Password == "" || in.Role == "" {
		writeError(w, http.StatusBadRequest, "Missing fields")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == in.Username {
			writeError(w, http.StatusBadRequest, "Username exists")
			return
		}
	}
	id := s.nextID()
	s.users[id] = &user{
		User: User{ID: id, Username: in.Username, Email: in.Email, Role: in.Role, CreatedAt: time.Now().UTC()},
		hash: hash,
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "User created", "user_id": id})
}

func (s *Server) handleListTeams(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]Team, 0, len(s.teams))
	for _, t := range s.teams {
		out = append(out, *t)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name        string `json:"name"`
		BaseCountry string `json:"base_country"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if in.Name == "" {
		writeError(w, http.StatusBadRequest, "Missing fields")
		return
	}
	id := s.AddTeam(in.Name, in.BaseCountry)
	s.publish(r.Context(), map[string]string{"type": "team_created", "team_id": id, "name": in.Name})
	writeJSON(w, http.StatusCreated, map[string]string{"team_id": id})
}

func (s *Server) handleDeleteTeam(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	t, ok := s.teams[id]
	delete(s.teams, id)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Team not found")
		return
	}
	s.publish(r.Context(), map[string]string{"type": "team_updated", "team_id": id, "name": t.Name})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Team deleted"})
}

func (s *Server) handleListPilots(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]Pilot, 0, len(s.pilots))
	for _, p := range s.pilots {
		cp := *p
		if cp.TeamID != "" {
			if t, ok := s.teams[cp.TeamID]; ok {
				cp.Team = t.Name
			} else {
				cp.Team = "Sin equipo"
			}
		}
		out = append(out, cp)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreatePilot(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name      string `json:"name"`
		Team      string `json:"team"`
		CarNumber any    `json:"car_number"`
	}
	if !decodeBody(w, r, &in) {
		return
	}

	s.mu.Lock()
	id := s.nextID()
	s.pilots[id] = &Pilot{
		ID:        id,
		Name:      in.Name,
		Team:      in.Team,
		CarNumber: in.CarNumber,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Unlock()

	s.publish(r.Context(), map[string]string{"type": "pilot_created", "pilot_id": id, "name": in.Name})
	writeJSON(w, http.StatusCreated, map[string]string{"pilot_id": id})
}

func (s *Server) handleDeletePilot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	_, ok := s.pilots[id]
	delete(s.pilots, id)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Pilot not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Pilot deleted"})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.User)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if !decodeBody(w, r, &in) {
		return
	}
	if in.Role == "" {
		in.Role = "user"
	}
	s.createUser(w, in)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	u, ok := s.users[r.PathValue("id")]
	var out User
	if ok {
		out = u.User
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    *string `json:"email"`
		Role     *string `json:"role"`
		Password *string `json:"password"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	var hash []byte
	if in.Password != nil {
		var err error
		if hash, err = bcrypt.GenerateFromPassword([]byte(*in.Password), s.cost); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	s.mu.Lock()
	u, ok := s.users[r.PathValue("id")]
	var out User
	if ok {
		if in.Email != nil {
			u.Email = *in.Email
		}
		if in.Role != nil {
			u.Role = *in.Role
		}
		if hash != nil {
			u.hash = hash
		}
		out = u.User
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	_, ok := s.users[id]
	delete(s.users, id)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "User deleted"})
}

func (s *Server) publish(ctx context.Context, v any) {
	if _, err := s.Publish(ctx, v); err != nil {
		s.log.WarnContext(ctx, "apitest.publish.fail", slog.String("err", err.Error()))
	}
}
