// Package auth defines the identity contract shared by the session resolver,
// the REST client and tests.
//
// The surface is intentionally small: an Authenticator turns a bearer token
// into an Identity (or an error), and two sentinel errors separate the cases
// the session resolver must treat differently.
//
// # Errors
//
// ErrUnauthorized signals an authoritative rejection: the backend answered and
// said the token is not valid. Sessions holding such a token are cleared.
//
// ErrUnavailable signals an indeterminate outcome: the backend could not be
// reached or returned something that is not an answer about the token. Callers
// must not destroy session state on this error.
//
//	id, err := authn.WhoAmI(ctx, token)
//	switch {
//	case errors.Is(err, auth.ErrUnauthorized): /* clear session */
//	case err != nil:                           /* keep best-effort identity */
//	default:                                   /* id is authoritative */
//	}
//
// # Admin checks
//
// IsAdmin is the single predicate for the admin role. It gates client-side
// UX only; the backend independently rejects unauthorized requests.
package auth
