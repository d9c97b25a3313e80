// Package clients builds per-user sourceapi/destapi clients from a
// Configuration's encrypted credentials, so the batch scheduler's executor
// factories can reconstruct an authenticated client from persisted job
// fields alone, without holding a live credential in memory between runs.
package clients

import (
	"fmt"
	"net/http"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/forgemirror/mirror-layer/internal/app/core/apperr"
	"github.com/forgemirror/mirror-layer/internal/app/destapi"
	"github.com/forgemirror/mirror-layer/internal/app/domain/config"
	"github.com/forgemirror/mirror-layer/internal/app/infrastructure/resilience"
	"github.com/forgemirror/mirror-layer/internal/app/metrics"
	"github.com/forgemirror/mirror-layer/internal/app/services/crypto"
	"github.com/forgemirror/mirror-layer/internal/app/sourceapi"
	"github.com/forgemirror/mirror-layer/pkg/logger"
)

// Factory constructs authenticated source/destination clients for one
// user's Configuration, decrypting credentials on demand.
type Factory struct {
	cipher     crypto.Cipher
	httpClient *http.Client
	redis      *goredis.Client
	log        *logger.Logger
}

// New constructs a Factory. redis may be nil, in which case source clients
// fall back to their in-process identity cache; outbound rate limiting is
// always in-process.
func New(cipher crypto.Cipher, httpClient *http.Client, redis *goredis.Client, log *logger.Logger) *Factory {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("clients")
	}
	return &Factory{cipher: cipher, httpClient: httpClient, redis: redis, log: log}
}

// Source builds a sourceapi.Client from cfg.Source.
func (f *Factory) Source(cfg config.Configuration) (*sourceapi.Client, error) {
	token, err := f.decrypt(cfg.Source.EncryptedToken)
	if err != nil {
		return nil, apperr.New("clients.Source", apperr.SourceAuthInvalid, err)
	}
	return sourceapi.New(sourceapi.Config{
		BaseURL:     cfg.Source.BaseURL,
		Token:       token,
		HTTPClient:  f.httpClient,
		Logger:      f.log,
		RedisClient: f.redis,
	})
}

// Destination builds a destapi.Client from cfg.Destination, wrapped in a
// fresh circuit breaker per client so one user's outage never trips a
// breaker shared with another user's destination calls.
func (f *Factory) Destination(cfg config.Configuration) (*destapi.Client, error) {
	token, err := f.decrypt(cfg.Destination.EncryptedToken)
	if err != nil {
		return nil, apperr.New("clients.Destination", apperr.DestinationAuthInvalid, err)
	}
	userID := cfg.UserID
	breakerCfg := resilience.DefaultConfig()
	breakerCfg.OnStateChange = func(_, to resilience.State) {
		value := 0.0
		switch to {
		case resilience.StateHalfOpen:
			value = 1
		case resilience.StateOpen:
			value = 2
		}
		metrics.CircuitBreakerState.WithLabelValues(userID).Set(value)
	}
	return destapi.New(destapi.Config{
		BaseURL:        cfg.Destination.BaseURL,
		Token:          token,
		HTTPClient:     f.httpClient,
		Logger:         f.log,
		CircuitBreaker: resilience.New(breakerCfg),
	})
}

func (f *Factory) decrypt(encrypted []byte) (string, error) {
	if len(encrypted) == 0 {
		return "", fmt.Errorf("clients: credential is not configured")
	}
	if f.cipher == nil {
		return "", fmt.Errorf("clients: no cipher configured")
	}
	plaintext, err := f.cipher.Decrypt(encrypted)
	if err != nil {
		return "", fmt.Errorf("clients: decrypt credential: %w", err)
	}
	return string(plaintext), nil
}
