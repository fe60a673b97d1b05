package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/shopmesh/shopmesh/internal/catalog"
)

const sessionTTL = 24 * time.Hour

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Code     string `json:"code"` // single-use verification code
}

// handleLogin verifies credentials under the attempt limiter and consumes
// the single-use code through the revocation guard.
//
// Order matters: the blocked pre-check avoids hitting bcrypt for subjects
// already over the ceiling; failed verification increments the counter; the
// code is revoked only after the password check so a bad password does not
// burn the code; success resets the counter.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, "invalid login payload")
		return
	}
	ctx := r.Context()

	blocked, err := s.limiter.Blocked(ctx, req.Email)
	if err != nil {
		writeError(w, httpStatus(err), "login unavailable")
		return
	}
	if blocked {
		writeError(w, http.StatusTooManyRequests, "too many attempts")
		return
	}

	customer, err := s.catalog.GetCustomer(ctx, req.Email)
	if err != nil && !errors.Is(err, catalog.ErrCustomerNotFound) {
		writeError(w, httpStatus(err), "login unavailable")
		return
	}

	verified := err == nil &&
		bcrypt.CompareHashAndPassword([]byte(customer.PassHash), []byte(req.Password)) == nil

	if verified && req.Code != "" {
		alreadyUsed, revErr := s.revoker.Revoke(ctx, req.Code)
		if revErr != nil {
			writeError(w, httpStatus(revErr), "login unavailable")
			return
		}
		verified = !alreadyUsed
	}

	if !verified {
		res, incErr := s.limiter.Increment(ctx, req.Email)
		if incErr != nil {
			writeError(w, httpStatus(incErr), "login unavailable")
			return
		}
		if res.Exceeded {
			writeError(w, http.StatusTooManyRequests, "too many attempts")
			return
		}
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if err := s.limiter.Reset(ctx, req.Email); err != nil {
		log.Warn().Err(err).Msg("Failed to reset attempt counter after login")
	}

	token, err := s.issueSession(customer)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// handleLogout clears the subject's attempt counter. Tokens are stateless,
// so expiry is the client's side of the contract.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, email string) {
	if err := s.limiter.Reset(r.Context(), email); err != nil {
		writeError(w, httpStatus(err), "logout unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) issueSession(c *catalog.Customer) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   c.Email,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(sessionTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

// verifySession parses a bearer token and returns the subject email.
func (s *Server) verifySession(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return "", fmt.Errorf("missing bearer token")
	}

	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", err
	}

	claims := token.Claims.(*jwt.RegisteredClaims)
	if claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, email string)

// requireSession guards customer routes with JWT verification.
func (s *Server) requireSession(next sessionHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email, err := s.verifySession(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, email)
	})
}

// requireAdmin guards admin routes against the configured capability set:
// the SHA-256 digest of X-Admin-Key must appear in auth.admin_key_hashes.
func (s *Server) requireAdmin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Admin-Key")
		if key == "" || !s.isAdminKey(key) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r)
	})
}

func (s *Server) isAdminKey(key string) bool {
	sum := sha256.Sum256([]byte(key))
	digest := hex.EncodeToString(sum[:])

	match := false
	for _, h := range s.cfg.Auth.AdminKeyHashes {
		if subtle.ConstantTimeCompare([]byte(digest), []byte(strings.ToLower(h))) == 1 {
			match = true
		}
	}
	return match
}
