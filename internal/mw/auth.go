package mw

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"pod-booking-backend/internal/model"
)

const actorKey = "actor"

// Claims are the bearer token claims understood by the API.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

var errMissingToken = errors.New("missing bearer token")

// Auth verifies an HS256 bearer token and stores the caller as an
// model.Actor on the context.
func Auth(secret []byte) gin.HandlerFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return func(c *gin.Context) {
		actor, err := parseActor(parser, secret, c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func parseActor(parser *jwt.Parser, secret []byte, header string) (model.Actor, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return model.Actor{}, errMissingToken
	}
	var claims Claims
	_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return model.Actor{}, err
	}
	if claims.Subject == "" {
		return model.Actor{}, errors.New("token has no subject")
	}
	return model.Actor{UserID: claims.Subject, Role: claims.Role}, nil
}

// RequireOperator rejects callers without the operator role. It must run
// after Auth.
func RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !Actor(c).Operator() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "operator role required"})
			return
		}
		c.Next()
	}
}

// Actor returns the authenticated caller. The zero Actor is returned for
// unauthenticated routes.
func Actor(c *gin.Context) model.Actor {
	v, ok := c.Get(actorKey)
	if !ok {
		return model.Actor{}
	}
	return v.(model.Actor)
}

// SignToken issues a token for the given actor. Used by tooling and tests.
func SignToken(secret []byte, actor model.Actor, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = actor.UserID
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: actor.Role, RegisteredClaims: claims})
	return token.SignedString(secret)
}
