package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/fintrack/fintrack/internal/config"
	"github.com/fintrack/fintrack/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrOTPNotFound    = errors.New("OTP not found or expired")
	ErrOTPInvalid     = errors.New("invalid OTP")
	ErrOTPMaxAttempts = errors.New("maximum attempts exceeded")
)

type OTPService struct {
	client *redis.Client
	cfg    *config.OTPConfig
	logger *logrus.Logger
}

func NewOTPService(client *redis.Client, cfg *config.OTPConfig, logger *logrus.Logger) *OTPService {
	return &OTPService{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

func otpKey(phone string) string { return fmt.Sprintf("otp:%s", phone) }

// PlainOTPKey holds the unhashed code so local tooling can read it back.
func PlainOTPKey(phone string) string { return fmt.Sprintf("otp:plain:%s", phone) }

// GenerateOTP creates a code for phone and stores its bcrypt hash. A new
// code replaces any pending one.
func (s *OTPService) GenerateOTP(ctx context.Context, phone string) (string, error) {
	otp, err := s.generateRandomOTP(s.cfg.Length)
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %w", err)
	}

	hashedOTP, err := bcrypt.GenerateFromPassword([]byte(otp), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash OTP: %w", err)
	}

	now := time.Now()
	data := models.OTPData{
		OTPHash:   string(hashedOTP),
		Phone:     phone,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.Expiry),
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal OTP data: %w", err)
	}

	if err := s.client.Set(ctx, otpKey(phone), dataJSON, s.cfg.Expiry).Err(); err != nil {
		s.logger.WithError(err).Error("Failed to store OTP in Redis")
		return "", fmt.Errorf("failed to store OTP: %w", err)
	}
	s.client.Set(ctx, PlainOTPKey(phone), otp, s.cfg.Expiry)

	// No SMS gateway; the code only goes to the log.
	s.logger.WithFields(logrus.Fields{
		"phone": phone,
		"otp":   otp,
	}).Info("OTP generated")

	return otp, nil
}

// VerifyOTP checks otp against the pending code for phone. Each wrong guess
// counts against MaxAttempts; a used, expired or exhausted code is deleted.
func (s *OTPService) VerifyOTP(ctx context.Context, phone, otp string) error {
	key := otpKey(phone)

	dataJSON, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return ErrOTPNotFound
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to get OTP from Redis")
		return fmt.Errorf("failed to get OTP: %w", err)
	}

	var data models.OTPData
	if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
		return fmt.Errorf("failed to unmarshal OTP data: %w", err)
	}

	if data.Expired(time.Now()) {
		s.client.Del(ctx, key, PlainOTPKey(phone))
		return ErrOTPNotFound
	}

	if data.Exhausted(s.cfg.MaxAttempts) {
		s.client.Del(ctx, key, PlainOTPKey(phone))
		return ErrOTPMaxAttempts
	}

	if err := bcrypt.CompareHashAndPassword([]byte(data.OTPHash), []byte(strings.TrimSpace(otp))); err != nil {
		data.Attempts++
		updatedJSON, _ := json.Marshal(data)
		s.client.Set(ctx, key, updatedJSON, time.Until(data.ExpiresAt))
		return ErrOTPInvalid
	}

	s.client.Del(ctx, key, PlainOTPKey(phone))
	return nil
}

func (s *OTPService) generateRandomOTP(length int) (string, error) {
	var b strings.Builder
	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteString(num.String())
	}
	return b.String(), nil
}
