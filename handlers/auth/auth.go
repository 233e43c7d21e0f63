package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/render"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// TokenTTL is how long an issued token stays valid.
const TokenTTL = 7 * 24 * time.Hour

// ErrNotConfigured is returned when no signing secret was set.
var ErrNotConfigured = errors.New("JWT_SECRET is not set")

var (
	mu        sync.RWMutex
	jwtSecret []byte
)

// AppClaims represents the custom claims for the JWT.
type AppClaims struct {
	jwt.RegisteredClaims
	Login string `json:"login"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name"`
}

// Init sets the HMAC secret used to sign and verify tokens.
func Init(secret string) {
	mu.Lock()
	defer mu.Unlock()

	jwtSecret = []byte(secret)
	if len(jwtSecret) == 0 {
		logrus.Warn("JWT_SECRET is not set. Authentication will not work.")
	}
}

func secret() []byte {
	mu.RLock()
	defer mu.RUnlock()
	return jwtSecret
}

// CreateJWT signs a token for the given subject.
func CreateJWT(subject, login, name, email string) (string, error) {
	key := secret()
	if len(key) == 0 {
		return "", ErrNotConfigured
	}

	now := time.Now()
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Login: login,
		Email: email,
		Name:  name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(key)
}

func ParseJWT(tokenString string) (*AppClaims, error) {
	key := secret()
	if len(key) == 0 {
		return nil, ErrNotConfigured
	}

	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*AppClaims); ok && token.Valid && claims.Subject != "" {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

// HandleDevToken issues a token for the login given in the query string.
// It is only mounted when development tokens are enabled.
func HandleDevToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		login := strings.TrimSpace(r.URL.Query().Get("login"))
		if login == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "login is required"})
			return
		}

		token, err := CreateJWT("dev:"+login, login, login, r.URL.Query().Get("email"))
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error": err,
				"login": login,
			}).Error("Failed to create JWT")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to create token"})
			return
		}

		logrus.WithField("login", login).Info("Issued development token")
		render.JSON(w, r, map[string]string{"token": token})
	}
}
