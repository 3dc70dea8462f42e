package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fintrack/fintrack/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var ErrTokenNotFound = errors.New("refresh token not found")

// TokenService tracks issued refresh tokens and blacklists revoked token IDs
// in redis. Entries expire with the token they describe.
type TokenService struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewTokenService(client *redis.Client, logger *logrus.Logger) *TokenService {
	return &TokenService{
		client: client,
		logger: logger,
	}
}

func refreshKey(jti string) string { return fmt.Sprintf("refresh_token:%s", jti) }
func revokedKey(jti string) string { return fmt.Sprintf("revoked_token:%s", jti) }

// Track records an issued refresh token.
func (s *TokenService) Track(ctx context.Context, claims *Claims) error {
	data := models.RefreshTokenData{
		JTI:       claims.JTI(),
		UserID:    claims.UserID,
		CreatedAt: time.Now(),
		ExpiresAt: claims.Expiry(),
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal token data: %w", err)
	}

	if err := s.client.Set(ctx, refreshKey(data.JTI), dataJSON, time.Until(data.ExpiresAt)).Err(); err != nil {
		s.logger.WithError(err).Error("Failed to store refresh token")
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

func (s *TokenService) Get(ctx context.Context, jti string) (*models.RefreshTokenData, error) {
	dataJSON, err := s.client.Get(ctx, refreshKey(jti)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	var data models.RefreshTokenData
	if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token data: %w", err)
	}
	return &data, nil
}

// Revoke blacklists a token ID until the token would have expired anyway.
// Tracked refresh tokens are also marked revoked.
func (s *TokenService) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}

	if err := s.client.Set(ctx, revokedKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	data, err := s.Get(ctx, jti)
	if errors.Is(err, ErrTokenNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	data.Revoked = true
	dataJSON, _ := json.Marshal(data)
	if err := s.client.Set(ctx, refreshKey(jti), dataJSON, ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark refresh token revoked: %w", err)
	}
	return nil
}

func (s *TokenService) IsRevoked(ctx context.Context, jti string) (bool, error) {
	exists, err := s.client.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
