package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// BootstrapAdmin creates an initial administrator when none exists.
// It is idempotent: if an administrator already exists, it does nothing.
func BootstrapAdmin(ctx context.Context, repo AccountRepository, hasher PasswordHasher, cfg Config, logger *zap.Logger) error {
	if !cfg.BootstrapAdminEnabled {
		return nil
	}

	has, err := repo.HasAdministrator(ctx)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	username := firstNonEmpty(strings.TrimSpace(cfg.BootstrapAdminUsername), "admin")
	password, err := GeneratePassword(32)
	if err != nil {
		return err
	}

	hash, err := hasher.Hash(password)
	if err != nil {
		return err
	}

	if _, err := repo.CreateAdministrator(ctx, username, hash); err != nil {
		return err
	}

	if cfg.InitialAdminPasswordPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.InitialAdminPasswordPath), 0o700); err != nil {
			return fmt.Errorf("prepare admin password dir: %w", err)
		}
		if err := os.WriteFile(cfg.InitialAdminPasswordPath, []byte(password+"\n"), 0o600); err != nil {
			return err
		}
		logger.Info("initial administrator created", zap.String("username", username), zap.String("password_file", cfg.InitialAdminPasswordPath))
	} else {
		logger.Info("initial administrator created", zap.String("username", username), zap.String("password", password))
	}

	return nil
}

// GeneratePassword returns a random URL-safe password of the given length.
func GeneratePassword(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("password length must be positive")
	}
	// base64 encoding: need 3/4 overhead; ensure enough bytes
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw)[:length], nil
}
