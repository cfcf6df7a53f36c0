package commands

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"palaver/internal/auth"
	"palaver/internal/config"
	"palaver/internal/storage"
)

// AddUser creates an identity with a random password directly against
// the database and prints the credentials. Meant for bootstrapping the
// first accounts before the HTTP signup endpoint is reachable.
func AddUser(username string, cfg *config.Config) error {
	store, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	password, err := generatePassword()
	if err != nil {
		return err
	}

	authService := auth.NewService(context.Background(), auth.Config{TokenExpiry: cfg.TokenExpiry}, store)
	if err := authService.Signup(username, password); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("\nUser Created Successfully!\n")
	fmt.Printf("Username:  %s\n", username)
	fmt.Printf("Password:  %s\n\n", password)
	fmt.Println("Please share these credentials with the user and ask them to keep the password safe.")
	return nil
}

func generatePassword() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
