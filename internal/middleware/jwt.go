package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"allies-service/internal/models"
)

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrMissingIdentity = errors.New("email or sub missing in token")
)

// Identity is the caller as named by the token. UserID is the email claim,
// falling back to sub.
type Identity struct {
	UserID   string
	Username string
}

func ParseToken(secret, tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenMalformed
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}

	userID, _ := claims["email"].(string)
	if userID == "" {
		userID, _ = claims["sub"].(string)
	}
	userID = models.NormalizeUserID(userID)
	if userID == "" {
		return Identity{}, ErrMissingIdentity
	}

	username, _ := claims["name"].(string)
	return Identity{UserID: userID, Username: username}, nil
}

// JWTAuth accepts a bearer token, or a token query parameter for websocket
// upgrades where browsers cannot set headers.
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.FullPath() == "/metrics" || c.Request.URL.Path == "/metrics" || c.Request.URL.Path == "/healthz" {
			c.Next()
			return
		}

		var tokenString string
		authHeader := c.GetHeader("Authorization")
		switch {
		case authHeader != "" && strings.HasPrefix(strings.ToLower(authHeader), "bearer "):
			tokenString = strings.TrimSpace(authHeader[7:])
		case authHeader == "" && c.Query("token") != "":
			tokenString = c.Query("token")
		default:
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization header"})
			c.Abort()
			return
		}

		identity, err := ParseToken(secret, tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set("userID", identity.UserID)
		c.Set("username", identity.Username)
		c.Next()
	}
}
