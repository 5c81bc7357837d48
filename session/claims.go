package session

import (
	"encoding/json"
	"strings"

	"github.com/ggoodman/paddock/auth"
	"github.com/golang-jwt/jwt/v5"
)

// PlaceholderUsername names a decoded identity whose token states a role but
// no username.
const PlaceholderUsername = "Usuario"

// segmentParser only decodes; it never verifies signatures.
var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

// DecodeClaims reconstructs a best-effort identity from the unverified claims
// segment of token. It returns nil when the token has no claims segment, the
// segment is not base64url, the payload is not a JSON object, or the object
// carries no identity claims at all.
//
// The username comes from "username", then "user_id", then "sub". The role
// comes from "role"; failing that, a "roles" list containing "admin" yields
// the admin role. Any other claim set defaults to the user role. A claim set
// without a username is named PlaceholderUsername.
func DecodeClaims(token string) *auth.Identity {
	c, ok := parseClaims(token)
	if !ok {
		return nil
	}
	role := c.role
	if role == "" {
		role = auth.RoleUser
	}
	name := c.username
	if name == "" {
		name = PlaceholderUsername
	}
	return &auth.Identity{Username: name, Role: role}
}

// tokenClaims holds the identity claims found in a token. role is empty when
// the token states no role at all.
type tokenClaims struct {
	username string
	role     string
}

func parseClaims(token string) (tokenClaims, bool) {
	parts := strings.Split(token, ".")
	if len(parts) < 2 || parts[1] == "" {
		return tokenClaims{}, false
	}

	payload, err := segmentParser.DecodeSegment(parts[1])
	if err != nil {
		return tokenClaims{}, false
	}

	var claims jwt.MapClaims
	if err := json.Unmarshal(payload, &claims); err != nil || claims == nil {
		return tokenClaims{}, false
	}

	c := tokenClaims{username: firstString(claims, "username", "user_id", "sub")}
	c.role, _ = claims["role"].(string)
	roles, hasRoles := rolesClaim(claims["roles"])

	if c.username == "" && c.role == "" && !hasRoles {
		return tokenClaims{}, false
	}
	if c.role == "" {
		for _, r := range roles {
			if r == auth.RoleAdmin {
				c.role = auth.RoleAdmin
				break
			}
		}
	}
	return c, true
}

func firstString(claims jwt.MapClaims, names ...string) string {
	for _, n := range names {
		if s, ok := claims[n].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// rolesClaim accepts either a JSON array of strings or a space-delimited string.
func rolesClaim(v any) ([]string, bool) {
	switch rv := v.(type) {
	case []any:
		out := make([]string, 0, len(rv))
		for _, r := range rv {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	case string:
		return strings.Fields(rv), true
	default:
		return nil, false
	}
}
