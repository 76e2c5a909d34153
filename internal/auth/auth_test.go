package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/jwtauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	a := New("test-secret")

	token, err := a.Issue(Identity{UserID: "u-1", Name: "Ada"}, time.Minute)
	require.NoError(t, err)

	id, err := a.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, &Identity{UserID: "u-1", Name: "Ada"}, id)
}

func TestVerifyRejectsForeignAndExpiredTokens(t *testing.T) {
	a := New("test-secret")

	foreign, err := New("other-secret").Issue(Identity{UserID: "u-1"}, time.Minute)
	require.NoError(t, err)
	_, err = a.Verify(foreign)
	assert.Error(t, err)

	expired, err := a.Issue(Identity{UserID: "u-1"}, -time.Minute)
	require.NoError(t, err)
	_, err = a.Verify(expired)
	assert.Error(t, err)

	_, err = a.Verify("not-a-token")
	assert.Error(t, err)
}

func TestIdentityFromProviderClaims(t *testing.T) {
	ja := jwtauth.New("HS256", []byte("s"), nil)
	a := &Authenticator{ja: ja}

	_, token, err := ja.Encode(map[string]interface{}{
		"sub":           "anon-7",
		"is_anonymous":  true,
		"user_metadata": map[string]interface{}{"full_name": "Guest Seven"},
	})
	require.NoError(t, err)

	id, err := a.Verify(token)
	require.NoError(t, err)
	assert.True(t, id.Guest)
	assert.Equal(t, "Guest Seven", id.Name)

	_, token, err = ja.Encode(map[string]interface{}{"name": "nobody"})
	require.NoError(t, err)
	_, err = a.Verify(token)
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestMiddleware(t *testing.T) {
	a := New("test-secret")
	token, err := a.Issue(Identity{UserID: "u-9", Name: "Nia", Guest: true}, time.Minute)
	require.NoError(t, err)

	var seen *Identity
	h := a.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ws?token="+token, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "u-9", seen.UserID)
	assert.True(t, seen.Guest)

	req := httptest.NewRequest(http.MethodPost, "/v1/rooms", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
