// Package auth turns the externally issued HS256 token into a player identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/jwtauth"
)

var ErrNoIdentity = errors.New("token carries no user id")

// Identity is who is behind a connection or request.
type Identity struct {
	UserID string
	Name   string
	Guest  bool
}

type Authenticator struct {
	ja *jwtauth.JWTAuth
}

func New(secret string) *Authenticator {
	return &Authenticator{ja: jwtauth.New("HS256", []byte(secret), nil)}
}

// Verify checks signature and expiry of a raw token.
func (a *Authenticator) Verify(token string) (*Identity, error) {
	tok, err := jwtauth.VerifyToken(a.ja, token)
	if err != nil {
		return nil, err
	}
	claims, err := tok.AsMap(context.Background())
	if err != nil {
		return nil, err
	}
	return identityFromClaims(claims)
}

// Issue signs a token for id. The session server never issues tokens in
// production; it is used by tests and local tooling.
func (a *Authenticator) Issue(id Identity, ttl time.Duration) (string, error) {
	claims := map[string]interface{}{
		"sub":          id.UserID,
		"name":         id.Name,
		"is_anonymous": id.Guest,
	}
	jwtauth.SetIssuedNow(claims)
	jwtauth.SetExpiryIn(claims, ttl)

	_, token, err := a.ja.Encode(claims)
	return token, err
}

func identityFromClaims(claims map[string]interface{}) (*Identity, error) {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrNoIdentity
	}

	id := &Identity{UserID: sub}
	id.Guest, _ = claims["is_anonymous"].(bool)

	id.Name, _ = claims["name"].(string)
	if meta, ok := claims["user_metadata"].(map[string]interface{}); ok && id.Name == "" {
		for _, key := range []string{"display_name", "full_name", "name"} {
			if v, ok := meta[key].(string); ok && v != "" {
				id.Name = v
				break
			}
		}
	}
	if id.Name == "" {
		if email, ok := claims["email"].(string); ok && email != "" {
			id.Name = strings.SplitN(email, "@", 2)[0]
		}
	}
	if id.Name == "" {
		id.Name = "Player"
		if id.Guest {
			id.Name = "Guest"
		}
	}
	return id, nil
}

// TokenFromQuery reads ?token=, which browsers use for websocket upgrades.
func TokenFromQuery(r *http.Request) string {
	return r.URL.Query().Get("token")
}

type ctxKey struct{}

// Middleware verifies the bearer token (header, cookie or ?token=) and puts
// the Identity on the request context. Unauthenticated requests get 401.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	verify := jwtauth.Verify(a.ja, jwtauth.TokenFromHeader, jwtauth.TokenFromCookie, TokenFromQuery)

	return func(next http.Handler) http.Handler {
		return verify(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, claims, err := jwtauth.FromContext(r.Context())
			if err != nil || tok == nil {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			id, err := identityFromClaims(claims)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), id)))
		}))
	}
}

func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (*Identity, error) {
	id, ok := ctx.Value(ctxKey{}).(*Identity)
	if !ok || id == nil {
		return nil, fmt.Errorf("auth: %w", ErrNoIdentity)
	}
	return id, nil
}
