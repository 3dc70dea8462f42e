package apiclient

import (
	"github.com/fintrack/fintrack/internal/models"
)

// authPayload covers every token/user field spelling the auth endpoints use.
// It is mapped into models.Session immediately on receipt.
type authPayload struct {
	Token             string      `json:"token"`
	AccessToken       string      `json:"accessToken"`
	AccessTokenSnake  string      `json:"access_token"`
	Refresh           string      `json:"refresh"`
	RefreshToken      string      `json:"refreshToken"`
	RefreshTokenSnake string      `json:"refresh_token"`
	User              models.User `json:"user"`
}

func (p authPayload) session() models.Session {
	return models.Session{
		AccessToken:  firstNonEmpty(p.AccessToken, p.Token, p.AccessTokenSnake),
		RefreshToken: firstNonEmpty(p.RefreshToken, p.Refresh, p.RefreshTokenSnake),
		User:         p.User,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
