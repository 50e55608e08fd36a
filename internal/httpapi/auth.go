package httpapi

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims represents the claims in the dashboard session token
type JWTClaims struct {
	jwt.RegisteredClaims
}

// withAuth is middleware that requires a valid dashboard JWT
func (r *Router) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		// Get token from Authorization header
		authHeader := req.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, `{"error": "missing authorization header"}`, http.StatusUnauthorized)
			return
		}

		// Expect "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			http.Error(w, `{"error": "invalid authorization format"}`, http.StatusUnauthorized)
			return
		}

		if !r.tokenValid(parts[1]) {
			http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, req)
	}
}

// tokenValid parses and validates a dashboard JWT
func (r *Router) tokenValid(tokenString string) bool {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(r.cfg.JWTSecret), nil
	})
	return err == nil && token.Valid
}

// generateJWT creates a new dashboard session token
func (r *Router) generateJWT() (string, time.Time, error) {
	expiry := r.cfg.JWTExpiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	expiresAt := time.Now().Add(expiry)

	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "dashboard",
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(r.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// handleLogin checks the dashboard password and issues a JWT
func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Password string `json:"password"`
	}

	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	if r.cfg.DashboardPassword == "" {
		r.logger.Printf("auth: dashboard password not configured")
		http.Error(w, `{"error": "login not configured"}`, http.StatusServiceUnavailable)
		return
	}

	// Constant-time comparison over fixed-length digests
	want := sha256.Sum256([]byte(r.cfg.DashboardPassword))
	got := sha256.Sum256([]byte(body.Password))
	if subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid password"})
		return
	}

	token, expiresAt, err := r.generateJWT()
	if err != nil {
		r.logger.Printf("auth: failed to generate JWT: %v", err)
		http.Error(w, `{"error": "failed to create session"}`, http.StatusInternalServerError)
		return
	}

	r.logger.Printf("auth: dashboard login")

	writeJSON(w, http.StatusOK, map[string]any{
		"token":        token,
		"expires_at":   expiresAt.Format(time.RFC3339),
		"simulator_ws": wsURLFromPublicBase(r.cfg.PublicBaseURL) + "/simulator/ws",
	})
}
