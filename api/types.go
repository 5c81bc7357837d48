package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Team is a racing team as listed by GET /teams.
type Team struct {
	ID          string `json:"_id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	BaseCountry string `json:"base_country,omitempty" yaml:"base_country,omitempty"`
	CreatedAt   string `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// NewTeam is the POST /teams body.
type NewTeam struct {
	Name        string `json:"name"`
	BaseCountry string `json:"base_country"`
}

// PilotStats are the season counters seeded with every pilot.
type PilotStats struct {
	Podiums int `json:"podiums" yaml:"podiums"`
	Wins    int `json:"wins" yaml:"wins"`
	DNF     int `json:"DNF" yaml:"dnf"`
}

// Pilot is a driver as listed by GET /pilots. Team holds the team name the
// backend resolved from TeamID, or a free-form name for pilots created with one.
type Pilot struct {
	ID           string      `json:"_id" yaml:"id"`
	Name         string      `json:"name" yaml:"name"`
	Team         string      `json:"team,omitempty" yaml:"team,omitempty"`
	TeamID       string      `json:"team_id,omitempty" yaml:"team_id,omitempty"`
	CarNumber    CarNumber   `json:"car_number,omitempty" yaml:"car_number,omitempty"`
	CurrentScore float64     `json:"current_score" yaml:"current_score"`
	Stats        *PilotStats `json:"stats,omitempty" yaml:"stats,omitempty"`
	CreatedAt    string      `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// NewPilot is the POST /pilots body.
type NewPilot struct {
	Name      string    `json:"name"`
	Team      string    `json:"team"`
	CarNumber CarNumber `json:"car_number,omitempty"`
}

// CarNumber is a car number that the backend may store as a JSON number or
// string. It marshals as a number whenever it is one.
type CarNumber string

// MarshalJSON implements json.Marshaler.
func (c CarNumber) MarshalJSON() ([]byte, error) {
	if c == "" {
		return []byte("null"), nil
	}
	if n, err := strconv.ParseInt(string(c), 10, 64); err == nil {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(c))
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *CarNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*c = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = CarNumber(strings.TrimSpace(s))
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("car_number: %w", err)
		}
		if i, err := n.Int64(); err == nil {
			*c = CarNumber(strconv.FormatInt(i, 10))
		} else {
			*c = CarNumber(n.String())
		}
	}
	return nil
}

// User is an account as returned by the admin endpoints.
type User struct {
	ID        string `json:"_id" yaml:"id"`
	Username  string `json:"username" yaml:"username"`
	Email     string `json:"email,omitempty" yaml:"email,omitempty"`
	Role      string `json:"role" yaml:"role"`
	CreatedAt string `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	LastLogin string `json:"last_login,omitempty" yaml:"last_login,omitempty"`
}

// Registration is the POST /register and POST /admin/users body.
type Registration struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// UserUpdate is the PUT /admin/users/{id} body. Nil fields are left alone.
type UserUpdate struct {
	Email    *string `json:"email,omitempty"`
	Role     *string `json:"role,omitempty"`
	Password *string `json:"password,omitempty"`
}

// Created is the body of a successful create call. Only the ID field matching
// the resource is set.
type Created struct {
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
	UserID  string `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	TeamID  string `json:"team_id,omitempty" yaml:"team_id,omitempty"`
	PilotID string `json:"pilot_id,omitempty" yaml:"pilot_id,omitempty"`
}

// ID returns whichever identifier the backend sent.
func (c Created) ID() string {
	for _, id := range []string{c.UserID, c.TeamID, c.PilotID} {
		if id != "" {
			return id
		}
	}
	return ""
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
	Role  string `json:"role,omitempty"`
}
