package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	domainerrors "bookshelf/internal/errors"
)

const tokenIssuer = "bookshelf"

type contextKey string

const contextKeyUserID contextKey = "user_id"

// InitDataVerifier signs Telegram Mini App users in from their initData
type InitDataVerifier interface {
	Verify(initData string) (string, error)
}

// Authenticator issues and verifies HS256 bearer tokens whose subject is the user id
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an authenticator signing with secret
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Issue signs a token for uid valid for ttl
func (a *Authenticator) Issue(uid string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   uid,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify checks the signature and expiry of token and returns its subject
func (a *Authenticator) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", domainerrors.Unauthorized("invalid or expired token").WithCause(err)
	}
	if claims.Subject == "" {
		return "", domainerrors.Unauthorized("token has no subject")
	}
	return claims.Subject, nil
}

// requireAuth validates the bearer token, or Mini App initData when a verifier
// is configured, and attaches the user id to the request context
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeError(w, r, domainerrors.Unauthorized("missing authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 {
			s.writeError(w, r, domainerrors.Unauthorized("invalid authorization header format"))
			return
		}

		var uid string
		var err error
		switch {
		case parts[0] == "Bearer":
			uid, err = s.auth.Verify(parts[1])
		case parts[0] == "tma" && s.miniApp != nil:
			uid, err = s.miniApp.Verify(parts[1])
		default:
			err = domainerrors.Unauthorized("invalid authorization header format")
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), contextKeyUserID, uid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// getUserID returns the authenticated user id, or "" outside requireAuth
func getUserID(ctx context.Context) string {
	if uid, ok := ctx.Value(contextKeyUserID).(string); ok {
		return uid
	}
	return ""
}
