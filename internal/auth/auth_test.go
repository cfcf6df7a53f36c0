package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"palaver/internal/models"
)

type memStore struct {
	creds map[string]Credentials
}

func newMemStore() *memStore {
	return &memStore{creds: map[string]Credentials{}}
}

func (m *memStore) GetCredentials(identity string) (Credentials, error) {
	creds, ok := m.creds[identity]
	if !ok {
		return Credentials{}, models.ErrNotFound
	}
	return creds, nil
}

func (m *memStore) UpsertCredentials(creds Credentials) error {
	m.creds[creds.Identity] = creds
	return nil
}

func TestAuthService(t *testing.T) {
	createService := func(t *testing.T) (*Service, *memStore) {
		t.Helper()
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		store := newMemStore()
		svc := NewService(ctx, Config{TokenExpiry: time.Hour}, store)
		svc.now = func() time.Time { return time.Unix(1700000000, 0) }
		return svc, store
	}

	t.Run("Signup", func(t *testing.T) {
		svc, store := createService(t)

		if err := svc.Signup("alice", "correcthorse"); err != nil {
			t.Fatalf("Signup failed: %v", err)
		}
		if _, ok := store.creds["alice"]; !ok {
			t.Fatal("credentials not persisted")
		}
		if store.creds["alice"].PasswordHash == "correcthorse" {
			t.Error("password stored in plaintext")
		}

		if err := svc.Signup("alice", "anotherpass"); !errors.Is(err, ErrUserExists) {
			t.Errorf("duplicate Signup error = %v, want ErrUserExists", err)
		}
		if err := svc.Signup("bob", "short"); err == nil {
			t.Error("short password accepted")
		}
		if err := svc.Signup("bad name!", "correcthorse"); err == nil {
			t.Error("invalid username accepted")
		}
	})

	t.Run("LoginAndIdentity", func(t *testing.T) {
		svc, _ := createService(t)
		if err := svc.Signup("alice", "correcthorse"); err != nil {
			t.Fatal(err)
		}

		token, expiry, err := svc.Login("alice", "correcthorse")
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		if token == "" {
			t.Fatal("empty token")
		}
		if want := time.Unix(1700000000, 0).Add(time.Hour).Unix(); expiry != want {
			t.Errorf("expiry = %d, want %d", expiry, want)
		}

		identity, err := svc.Identity(token)
		if err != nil || identity != "alice" {
			t.Errorf("Identity = (%q, %v), want alice", identity, err)
		}

		// Unknown user and wrong password fail identically.
		if _, _, err := svc.Login("ghost", "correcthorse"); !errors.Is(err, ErrLoginFailed) {
			t.Errorf("unknown user error = %v, want ErrLoginFailed", err)
		}
		if _, _, err := svc.Login("alice", "wrongpass"); !errors.Is(err, ErrLoginFailed) {
			t.Errorf("wrong password error = %v, want ErrLoginFailed", err)
		}
	})

	t.Run("Logoff", func(t *testing.T) {
		svc, _ := createService(t)
		if err := svc.Signup("alice", "correcthorse"); err != nil {
			t.Fatal(err)
		}
		token, _, err := svc.Login("alice", "correcthorse")
		if err != nil {
			t.Fatal(err)
		}

		if err := svc.Logoff(token); err != nil {
			t.Fatalf("Logoff failed: %v", err)
		}
		if _, err := svc.Identity(token); err == nil {
			t.Error("token still valid after logoff")
		}
	})
}
