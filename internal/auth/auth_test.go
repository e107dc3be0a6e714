package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestIssueAndParse(t *testing.T) {
	v := NewVerifier("secret")

	token, err := v.Issue(Identity{UserID: "u1", Email: "awa@example.com", Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)

	id, err := v.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, "awa@example.com", id.Email)
	assert.Equal(t, RoleAdmin, id.Role)
}

func TestParseRejectsBadTokens(t *testing.T) {
	v := NewVerifier("secret")

	expired, err := v.Issue(Identity{UserID: "u1"}, -time.Minute)
	require.NoError(t, err)
	_, err = v.Parse(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewVerifier("other").Issue(Identity{UserID: "u1"}, time.Hour)
	require.NoError(t, err)
	_, err = v.Parse(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Parse(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewVerifier("").Parse(other)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func newRouter(v *Verifier, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append([]gin.HandlerFunc{Authenticate(v)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		id, ok := FromContext(c)
		if !ok {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, id.UserID)
	})
	r.GET("/", handlers...)
	return r
}

func do(r *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("secret")
	user, _ := v.Issue(Identity{UserID: "u1", Role: "customer"}, time.Hour)
	admin, _ := v.Issue(Identity{UserID: "a1", Role: RoleAdmin}, time.Hour)

	open := newRouter(v)
	w := do(open, "")
	assert.Equal(t, "anonymous", w.Body.String())
	w = do(open, user)
	assert.Equal(t, "u1", w.Body.String())
	w = do(open, "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	users := newRouter(v, RequireUser())
	assert.Equal(t, http.StatusUnauthorized, do(users, "").Code)
	assert.Equal(t, http.StatusOK, do(users, user).Code)

	admins := newRouter(v, RequireRole(RoleAdmin))
	assert.Equal(t, http.StatusForbidden, do(admins, user).Code)
	assert.Equal(t, http.StatusOK, do(admins, admin).Code)
}
