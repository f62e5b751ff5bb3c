package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"healthvoice/internal/api"
	"healthvoice/pkg/cache"
	"healthvoice/pkg/logger"
	"healthvoice/pkg/resilience"

	"go.uber.org/zap"
)

// Authenticator is the part of the backend client used to obtain tokens
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*api.Token, error)
	Signup(ctx context.Context, payload api.SignupRequest) error
}

type Credentials struct {
	Email    string
	Password string
	FullName string
	Phone    string
	State    string
}

// Source acquires and caches the backend bearer token. It implements
// api.TokenSource.
type Source struct {
	client Authenticator
	cache  cache.Cache
	creds  Credentials
	ttl    time.Duration
	retry  *resilience.RetryConfig

	mu sync.Mutex
}

func NewSource(client Authenticator, c cache.Cache, creds Credentials, ttl time.Duration) *Source {
	return &Source{
		client: client,
		cache:  c,
		creds:  creds,
		ttl:    ttl,
		retry:  resilience.DefaultRetryConfig(),
	}
}

// Token returns the cached token or logs in. A failed login falls back to
// signing the account up and logging in again.
func (s *Source) Token(ctx context.Context) (string, error) {
	key := cache.TokenCacheKey(s.creds.Email)

	var token string
	if err := s.cache.Get(ctx, key, &token); err == nil && token != "" {
		return token, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// another caller may have finished while we waited
	if err := s.cache.Get(ctx, key, &token); err == nil && token != "" {
		return token, nil
	}

	err := resilience.RetryWithExponentialBackoff(ctx, s.retry, func() error {
		t, err := s.acquire(ctx)
		if err != nil {
			return err
		}
		token = t
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to acquire token: %w", err)
	}

	if err := s.cache.SetWithTTL(ctx, key, token, s.ttl); err != nil {
		logger.Warn("Failed to cache token", zap.Error(err))
	}

	return token, nil
}

// Invalidate drops the cached token so the next call logs in again
func (s *Source) Invalidate() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.cache.Delete(ctx, cache.TokenCacheKey(s.creds.Email)); err != nil {
		logger.Warn("Failed to invalidate token", zap.Error(err))
	}
}

func (s *Source) acquire(ctx context.Context) (string, error) {
	token, loginErr := s.client.Login(ctx, s.creds.Email, s.creds.Password)
	if loginErr == nil {
		logger.Info("Logged in", zap.String("email", s.creds.Email))
		return token.AccessToken, nil
	}
	if !resilience.IsPermanent(loginErr) {
		return "", loginErr
	}

	logger.Info("Login rejected, signing up", zap.String("email", s.creds.Email), zap.Error(loginErr))

	signupErr := s.client.Signup(ctx, api.SignupRequest{
		FullName: s.creds.FullName,
		Email:    s.creds.Email,
		Password: s.creds.Password,
		Phone:    s.creds.Phone,
		State:    s.creds.State,
	})
	if signupErr != nil && !resilience.IsPermanent(signupErr) {
		return "", signupErr
	}

	token, err := s.client.Login(ctx, s.creds.Email, s.creds.Password)
	if err != nil {
		return "", resilience.Permanent(errors.Join(err, signupErr))
	}

	logger.Info("Signed up and logged in", zap.String("email", s.creds.Email))
	return token.AccessToken, nil
}
