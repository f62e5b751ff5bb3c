package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"healthvoice/internal/api"
	"healthvoice/pkg/cache"
	"healthvoice/pkg/model"
	"healthvoice/pkg/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAuthenticator struct {
	mock.Mock
}

func (m *MockAuthenticator) Login(ctx context.Context, email, password string) (*api.Token, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*api.Token), args.Error(1)
}

func (m *MockAuthenticator) Signup(ctx context.Context, payload api.SignupRequest) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

var testCreds = Credentials{
	Email:    "admin@example.com",
	Password: "StrongPass123",
	FullName: "Admin User",
	Phone:    "9999999999",
	State:    "Maharashtra",
}

func rejected() error {
	return resilience.Permanent(&api.Error{Endpoint: "/auth/login", StatusCode: 400, Detail: "Incorrect email or password"})
}

func newSource(client Authenticator) *Source {
	s := NewSource(client, cache.NewMemoryCache(time.Hour), testCreds, time.Hour)
	s.retry = &resilience.RetryConfig{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1}
	return s
}

func TestSource_LoginAndCache(t *testing.T) {
	client := new(MockAuthenticator)
	client.On("Login", mock.Anything, testCreds.Email, testCreds.Password).
		Return(&api.Token{AccessToken: "tok-1"}, nil).Once()

	s := newSource(client)

	token, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)

	token, err = s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)

	client.AssertExpectations(t)
}

func TestSource_SignupFallback(t *testing.T) {
	client := new(MockAuthenticator)
	client.On("Login", mock.Anything, testCreds.Email, testCreds.Password).Return(nil, rejected()).Once()
	client.On("Signup", mock.Anything, mock.MatchedBy(func(req api.SignupRequest) bool {
		return req.Email == testCreds.Email && req.FullName == "Admin User" && req.State == "Maharashtra"
	})).Return(nil).Once()
	client.On("Login", mock.Anything, testCreds.Email, testCreds.Password).
		Return(&api.Token{AccessToken: "tok-new"}, nil).Once()

	token, err := newSource(client).Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-new", token)
	client.AssertExpectations(t)
}

func TestSource_SignupFallbackFailsPermanently(t *testing.T) {
	client := new(MockAuthenticator)
	client.On("Login", mock.Anything, mock.Anything, mock.Anything).Return(nil, rejected())
	client.On("Signup", mock.Anything, mock.Anything).
		Return(resilience.Permanent(&api.Error{StatusCode: 400, Detail: "Email already registered"}))

	_, err := newSource(client).Token(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrRemoteService)

	// permanent failures are not retried
	client.AssertNumberOfCalls(t, "Login", 2)
	client.AssertNumberOfCalls(t, "Signup", 1)
}

func TestSource_TransientLoginErrorRetried(t *testing.T) {
	client := new(MockAuthenticator)
	client.On("Login", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused")).Once()
	client.On("Login", mock.Anything, mock.Anything, mock.Anything).
		Return(&api.Token{AccessToken: "tok-2"}, nil).Once()

	token, err := newSource(client).Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", token)
	client.AssertNotCalled(t, "Signup", mock.Anything, mock.Anything)
}

func TestSource_Invalidate(t *testing.T) {
	client := new(MockAuthenticator)
	client.On("Login", mock.Anything, mock.Anything, mock.Anything).
		Return(&api.Token{AccessToken: "tok-1"}, nil).Once()
	client.On("Login", mock.Anything, mock.Anything, mock.Anything).
		Return(&api.Token{AccessToken: "tok-2"}, nil).Once()

	s := newSource(client)

	first, err := s.Token(context.Background())
	require.NoError(t, err)

	s.Invalidate()

	second, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", first)
	assert.Equal(t, "tok-2", second)
}
