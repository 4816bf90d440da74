// Package auth guards operator endpoints with API keys
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"sync"

	"arbibot/internal/core"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// HeaderAPIKey carries the operator key
	HeaderAPIKey = "X-API-Key"

	// HeaderRequestID is echoed on every guarded response
	HeaderRequestID = "X-Request-ID"

	// DefaultRateLimitPerKey is the default number of requests per second allowed per API key
	DefaultRateLimitPerKey = 5
)

// APIKeyValidator validates API keys and manages rate limiting
type APIKeyValidator struct {
	validKeys     map[string]bool
	rateLimiters  map[string]*rate.Limiter
	rateLimit     int
	logger        core.ILogger
	mu            sync.RWMutex
	failureLogger core.ILogger
}

// NewAPIKeyValidator creates a new API key validator with rate limiting
func NewAPIKeyValidator(apiKeys []string, rateLimit int, logger core.ILogger) *APIKeyValidator {
	validKeys := make(map[string]bool)
	for _, key := range apiKeys {
		if key != "" {
			validKeys[key] = true
		}
	}

	if rateLimit <= 0 {
		rateLimit = DefaultRateLimitPerKey
	}

	return &APIKeyValidator{
		validKeys:     validKeys,
		rateLimiters:  make(map[string]*rate.Limiter),
		rateLimit:     rateLimit,
		logger:        logger.WithField("component", "auth"),
		failureLogger: logger.WithField("component", "auth_failure"),
	}
}

// AddAPIKey adds a new API key to the validator (for key rotation)
func (v *APIKeyValidator) AddAPIKey(apiKey string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.validKeys[apiKey] = true
	v.logger.Info("API key added")
}

// RemoveAPIKey removes an API key from the validator (for key rotation)
func (v *APIKeyValidator) RemoveAPIKey(apiKey string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.validKeys, apiKey)
	delete(v.rateLimiters, apiKey)
	v.logger.Info("API key removed")
}

// ValidateAPIKey checks if the API key is valid
func (v *APIKeyValidator) ValidateAPIKey(apiKey string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for k := range v.validKeys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(apiKey)) == 1 {
			return true
		}
	}
	return false
}

// CheckRateLimit checks if the request is within rate limit for the API key
func (v *APIKeyValidator) CheckRateLimit(apiKey string) bool {
	v.mu.Lock()
	limiter, exists := v.rateLimiters[apiKey]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(v.rateLimit), v.rateLimit)
		v.rateLimiters[apiKey] = limiter
	}
	v.mu.Unlock()

	return limiter.Allow()
}

type requestIDKey struct{}

func withRequestID(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return context.WithValue(ctx, requestIDKey{}, id), id
}

// RequestID extracts the request ID set by Middleware
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return "unknown"
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests without a valid key with 401 and over-limit
// keys with 429
func (v *APIKeyValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, requestID := withRequestID(r.Context())
		w.Header().Set(HeaderRequestID, requestID)
		log := v.failureLogger.WithFields(map[string]interface{}{
			"path":       r.URL.Path,
			"request_id": requestID,
			"client_ip":  clientIP(r),
		})

		apiKey := r.Header.Get(HeaderAPIKey)
		switch {
		case apiKey == "":
			log.Warn("Authentication failed: missing API key")
			deny(w, http.StatusUnauthorized, "missing API key")
			return
		case !v.ValidateAPIKey(apiKey):
			log.Warn("Authentication failed: invalid API key")
			deny(w, http.StatusUnauthorized, "invalid API key")
			return
		case !v.CheckRateLimit(apiKey):
			log.Warn("Rate limit exceeded")
			deny(w, http.StatusTooManyRequests, "rate limit exceeded for API key")
			return
		}

		v.logger.Info("Operator request", "path", r.URL.Path, "request_id", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func deny(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
