package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/raffle_service/pkg/logger"
)

const (
	// ServiceTokenHeader carries the service-to-service auth token.
	ServiceTokenHeader = "X-Service-Token"
	// DefaultServiceTokenExpiry is the default lifetime of generated
	// service tokens.
	DefaultServiceTokenExpiry = time.Hour
)

const serviceIDKey contextKey = "service_id"

// ServiceClaims are the JWT claims carried by a service token.
type ServiceClaims struct {
	ServiceID string `json:"service_id"`
	jwt.RegisteredClaims
}

// ServiceAuthMiddleware authenticates calls from trusted backend
// services, such as the randomness coordinator posting fulfillments.
type ServiceAuthMiddleware struct {
	secret          []byte
	logger          *logger.Logger
	allowedServices map[string]bool
	skipPaths       map[string]bool

	mu              sync.Mutex
	validatedTokens map[string]*cachedToken
}

type cachedToken struct {
	serviceID string
	expiresAt time.Time
}

// ServiceAuthConfig configures the service auth middleware.
type ServiceAuthConfig struct {
	// Secret is the shared HMAC secret used to verify tokens.
	Secret string
	// Logger for auth events.
	Logger *logger.Logger
	// AllowedServices restricts which service IDs may call. Empty
	// means any service with a valid token is accepted.
	AllowedServices []string
	// SkipPaths are request paths that bypass authentication.
	SkipPaths []string
}

// NewServiceAuthMiddleware creates a service auth middleware.
func NewServiceAuthMiddleware(cfg ServiceAuthConfig) *ServiceAuthMiddleware {
	allowed := make(map[string]bool, len(cfg.AllowedServices))
	for _, svc := range cfg.AllowedServices {
		allowed[svc] = true
	}

	skip := make(map[string]bool, len(cfg.SkipPaths))
	for _, path := range cfg.SkipPaths {
		skip[path] = true
	}

	return &ServiceAuthMiddleware{
		secret:          []byte(cfg.Secret),
		logger:          cfg.Logger,
		allowedServices: allowed,
		skipPaths:       skip,
		validatedTokens: make(map[string]*cachedToken),
	}
}

// Handler returns the middleware handler.
func (m *ServiceAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get(ServiceTokenHeader)
		if token == "" {
			m.respondError(w, r, "missing service token")
			return
		}

		serviceID, err := m.validateServiceToken(token)
		if err != nil {
			m.respondError(w, r, fmt.Sprintf("invalid service token: %v", err))
			return
		}

		if !m.isServiceAllowed(serviceID) {
			m.respondError(w, r, fmt.Sprintf("service %q not allowed", serviceID))
			return
		}

		ctx := context.WithValue(r.Context(), serviceIDKey, serviceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *ServiceAuthMiddleware) validateServiceToken(tokenString string) (string, error) {
	m.mu.Lock()
	if cached, ok := m.validatedTokens[tokenString]; ok && time.Now().Before(cached.expiresAt) {
		m.mu.Unlock()
		return cached.serviceID, nil
	}
	m.mu.Unlock()

	claims := &ServiceClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", fmt.Errorf("token is not valid")
	}
	if claims.ServiceID == "" {
		return "", fmt.Errorf("token has no service_id claim")
	}

	m.cacheToken(tokenString, claims)

	return claims.ServiceID, nil
}

// cacheToken remembers a validated token until it expires, capped at
// five minutes so revocations take effect reasonably quickly.
func (m *ServiceAuthMiddleware) cacheToken(tokenString string, claims *ServiceClaims) {
	expiresAt := time.Now().Add(5 * time.Minute)
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(expiresAt) {
		expiresAt = claims.ExpiresAt.Time
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.validatedTokens[tokenString] = &cachedToken{
		serviceID: claims.ServiceID,
		expiresAt: expiresAt,
	}

	if len(m.validatedTokens) > 1000 {
		m.cleanupCache()
	}
}

// cleanupCache removes expired entries. Caller must hold the lock.
func (m *ServiceAuthMiddleware) cleanupCache() {
	now := time.Now()
	for token, cached := range m.validatedTokens {
		if now.After(cached.expiresAt) {
			delete(m.validatedTokens, token)
		}
	}
}

func (m *ServiceAuthMiddleware) isServiceAllowed(serviceID string) bool {
	if len(m.allowedServices) == 0 {
		return true
	}
	return m.allowedServices[serviceID]
}

func (m *ServiceAuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, message string) {
	if m.logger != nil {
		m.logger.WithFields(map[string]interface{}{
			"path":   r.URL.Path,
			"reason": message,
		}).Warn("service authentication failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// ServiceTokenGenerator creates tokens for outbound service calls.
type ServiceTokenGenerator struct {
	secret    []byte
	serviceID string
	expiry    time.Duration
}

// NewServiceTokenGenerator creates a token generator for the given
// service identity.
func NewServiceTokenGenerator(secret, serviceID string, expiry time.Duration) *ServiceTokenGenerator {
	if expiry <= 0 {
		expiry = DefaultServiceTokenExpiry
	}
	return &ServiceTokenGenerator{
		secret:    []byte(secret),
		serviceID: serviceID,
		expiry:    expiry,
	}
}

// GenerateToken creates a signed service token.
func (g *ServiceTokenGenerator) GenerateToken() (string, error) {
	now := time.Now()
	claims := &ServiceClaims{
		ServiceID: g.serviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   g.serviceID,
			Issuer:    "raffle-service",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(g.secret)
}

// GetServiceID extracts the authenticated service ID from the context.
func GetServiceID(ctx context.Context) string {
	if id, ok := ctx.Value(serviceIDKey).(string); ok {
		return id
	}
	return ""
}

// RequireServiceAuth rejects requests that did not pass service auth.
func RequireServiceAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetServiceID(r.Context()) == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "service authentication required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
