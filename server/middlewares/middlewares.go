package middlewares

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/studyloop/feedengine/utils"
	. "github.com/studyloop/feedengine/utils/log"
)

var (
	// jwtSecret is the shared HMAC key used to validate access tokens. Setup
	// must run before any middleware is used.
	jwtSecret []byte
)

// Setup initializes all package scoped variables that are needed to perform
// middleware functionalities. This function must be called before any
// middleware is used.
func Setup() {
	secret := os.Getenv("FEEDENGINE_JWT_SECRET")
	if secret == "" {
		// Abort directly, the server cannot authorize anyone without a key.
		Log.Fatal("FEEDENGINE_JWT_SECRET is not set")
	}
	jwtSecret = []byte(secret)
}

// extractToken looks for the access token first in the "token" query
// parameter (used by websocket clients that cannot set headers), then in the
// Authorization bearer header.
func extractToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// parseSubject validates the token signature and expiry and returns the
// subject claim, which carries the viewer's user id.
func parseSubject(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil {
		return "", err
	}
	subject, err := parsed.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if subject == "" {
		return "", errors.New("token carries no subject")
	}
	return subject, nil
}

// JWT fetches the user's access token from the request, validates it and adds
// a new header field "sub" storing the user's id. It aborts with 401 on token
// not provided or token invalid (wrong signature or expired).
func JWT() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code": utils.ErrorTokenAuthFail,
				"msg":  "empty jwt token",
			})
			c.Abort()
			return
		}

		subject, err := parseSubject(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code": utils.ErrorTokenAuthFail,
				"msg":  err.Error(),
			})
			c.Abort()
			return
		}

		// Successfully validated the token, expose the subject (id) to the
		// handlers and drop the raw credential.
		c.Request.Header.Del("token")
		c.Request.Header.Set("sub", subject)

		c.Next()
	}
}
