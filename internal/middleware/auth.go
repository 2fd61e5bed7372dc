package middleware

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	adapter "github.com/gwatts/gin-adapter"
)

const (
	UserIDKey = "user_id"
	TokenKey  = "access_token"
)

// JWT validates bearer tokens issued by issuerURL for audience. Signing keys
// are fetched from the issuer's JWKS endpoint and cached.
func JWT(issuerURL, audience string) (gin.HandlerFunc, error) {
	issuer, err := url.Parse(strings.TrimRight(issuerURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse issuer url: %w", err)
	}
	jwksURI := issuer.JoinPath(".well-known", "jwks.json")

	provider := jwks.NewCachingProvider(issuer, 5*time.Minute, jwks.WithCustomJWKSURI(jwksURI))

	v, err := validator.New(
		provider.KeyFunc,
		validator.RS256,
		issuer.String(),
		[]string{audience},
		validator.WithAllowedClockSkew(time.Minute),
	)
	if err != nil {
		return nil, fmt.Errorf("set up jwt validator: %w", err)
	}

	mw := jwtmiddleware.New(v.ValidateToken, jwtmiddleware.WithErrorHandler(unauthorized))

	return adapter.Wrap(mw.CheckJWT), nil
}

func unauthorized(w http.ResponseWriter, _ *http.Request, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"code":"UNAUTHORIZED","message":"Authentication required"}`))
}

// Identify copies the validated subject and the raw token into the gin
// context. It must run after JWT.
func Identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := c.Request.Context().Value(jwtmiddleware.ContextKey{}).(*validator.ValidatedClaims)
		if !ok {
			GetLogger(c).Warn("no user claims found in context")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "Authentication required"})
			return
		}

		id, err := uuid.Parse(claims.RegisteredClaims.Subject)
		if err != nil {
			GetLogger(c).Warn("token subject is not a user id", "sub", claims.RegisteredClaims.Subject)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "Authentication required"})
			return
		}

		c.Set(UserIDKey, id)
		c.Set(TokenKey, strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		c.Next()
	}
}

// GetUserID returns the authenticated user of the request.
func GetUserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

func GetToken(c *gin.Context) string {
	return c.GetString(TokenKey)
}
