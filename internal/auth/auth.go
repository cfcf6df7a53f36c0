package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"palaver/internal/content"
	"palaver/internal/models"

	"github.com/c-pro/geche"
	"golang.org/x/crypto/bcrypt"
)

const DefaultTokenExpiry = 12 * time.Hour

var (
	ErrUserExists  = errors.New("user already exists")
	ErrLoginFailed = errors.New("login failed")
)

// Credentials are the stored login credentials of one identity.
type Credentials struct {
	Identity     string
	PasswordHash string
	CreatedAt    int64
}

// CredentialStore persists credentials. Implemented by the storage package.
type CredentialStore interface {
	GetCredentials(identity string) (Credentials, error)
	UpsertCredentials(creds Credentials) error
}

type Config struct {
	TokenExpiry time.Duration
}

// Service verifies identities for connection admission. A successful
// login issues an opaque bearer token that maps back to the identity
// until it expires.
type Service struct {
	store       CredentialStore
	liveTokens  geche.Geche[string, string]
	tokenExpiry time.Duration
	now         func() time.Time
}

func NewService(ctx context.Context, config Config, store CredentialStore) *Service {
	if config.TokenExpiry == 0 {
		config.TokenExpiry = DefaultTokenExpiry
	}
	return &Service{
		store:       store,
		liveTokens:  geche.NewMapTTLCache[string, string](ctx, config.TokenExpiry, time.Minute),
		tokenExpiry: config.TokenExpiry,
		now:         time.Now,
	}
}

func (s *Service) Signup(identity, password string) error {
	if err := content.ValidateUsername(identity); err != nil {
		return err
	}
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters")
	}

	if _, err := s.store.GetCredentials(identity); err == nil {
		return ErrUserExists
	} else if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check existing credentials: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	return s.store.UpsertCredentials(Credentials{
		Identity:     identity,
		PasswordHash: string(hash),
		CreatedAt:    s.now().Unix(),
	})
}

// Login returns a bearer token and its expiry as a unix timestamp.
// All failure modes collapse into ErrLoginFailed to avoid leaking
// whether the identity exists.
func (s *Service) Login(identity, password string) (string, int64, error) {
	creds, err := s.store.GetCredentials(identity)
	if err != nil {
		return "", 0, ErrLoginFailed
	}

	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)); err != nil {
		return "", 0, ErrLoginFailed
	}

	token, err := s.generateToken()
	if err != nil {
		return "", 0, fmt.Errorf("failed to generate token: %w", err)
	}
	s.liveTokens.Set(token, identity)

	return token, s.now().Add(s.tokenExpiry).Unix(), nil
}

func (s *Service) Logoff(token string) error {
	return s.liveTokens.Del(token)
}

// Identity resolves a bearer token to its identity.
func (s *Service) Identity(token string) (string, error) {
	return s.liveTokens.Get(token)
}

func (s *Service) generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
