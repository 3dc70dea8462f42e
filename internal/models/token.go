package models

import "time"

// Session is the canonical shape every auth response is normalized into.
type Session struct {
	AccessToken  string
	RefreshToken string
	User         User
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type RefreshTokenData struct {
	JTI       string    `json:"jti"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
}

// OTPData is the pending one-time code for a phone, stored as JSON in redis.
type OTPData struct {
	OTPHash   string    `json:"otp_hash"`
	Phone     string    `json:"phone"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (d OTPData) Expired(now time.Time) bool {
	return !now.Before(d.ExpiresAt)
}

// Exhausted reports whether no guesses remain under maxAttempts.
func (d OTPData) Exhausted(maxAttempts int) bool {
	return d.Attempts >= maxAttempts
}
