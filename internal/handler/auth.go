package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/EpicMandM/evcharge-booking/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/julienschmidt/httprouter"
)

type contextKey string

const callerKey contextKey = "caller"

// Claims carries the caller identity. The subject is the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator resolves Bearer tokens into a models.Caller.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Authenticate rejects requests without a valid HS256 token and stores the
// caller in the request context.
func (a *Authenticator) Authenticate(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeUnauthorized(w, "missing token")
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			writeUnauthorized(w, "invalid token format")
			return
		}
		caller, err := a.parse(raw)
		if err != nil {
			writeUnauthorized(w, "invalid token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), callerKey, caller)), ps)
	}
}

func (a *Authenticator) parse(raw string) (models.Caller, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return models.Caller{}, jwt.ErrTokenInvalidClaims
	}
	role, err := models.ParseRole(claims.Role)
	if err != nil || claims.Subject == "" {
		return models.Caller{}, jwt.ErrTokenInvalidClaims
	}
	return models.Caller{ID: claims.Subject, Role: role}, nil
}

// Sign issues a token for caller that expires after ttl.
func (a *Authenticator) Sign(caller models.Caller, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		Role: string(caller.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// CallerFromContext returns the caller stored by Authenticate.
func CallerFromContext(ctx context.Context) (models.Caller, bool) {
	c, ok := ctx.Value(callerKey).(models.Caller)
	return c, ok
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusUnauthorized, errorBody{Error: msg, Guard: "token"})
}
