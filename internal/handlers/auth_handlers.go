package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fintrack/fintrack/internal/middleware"
	"github.com/fintrack/fintrack/internal/models"
	"github.com/fintrack/fintrack/internal/repository"
	"github.com/fintrack/fintrack/internal/service"
	"github.com/sirupsen/logrus"
)

type AuthHandlers struct {
	otpService   *service.OTPService
	jwtService   *service.JWTService
	tokenService *service.TokenService
	users        repository.UserRepository
	logger       *logrus.Logger
}

func NewAuthHandlers(
	otpService *service.OTPService,
	jwtService *service.JWTService,
	tokenService *service.TokenService,
	users repository.UserRepository,
	logger *logrus.Logger,
) *AuthHandlers {
	return &AuthHandlers{
		otpService:   otpService,
		jwtService:   jwtService,
		tokenService: tokenService,
		users:        users,
		logger:       logger,
	}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Password  string `json:"password"`
}

type AuthResponse struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	TokenType    string      `json:"tokenType"`
	ExpiresIn    int64       `json:"expiresIn"`
	User         models.User `json:"user"`
}

// OTPAuthResponse is the OTP flow's shape, which names the access token
// "token".
type OTPAuthResponse struct {
	Token        string      `json:"token"`
	RefreshToken string      `json:"refreshToken"`
	User         models.User `json:"user"`
}

type RefreshRequest struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

type RefreshResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int64  `json:"expiresIn"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type OTPRequest struct {
	Phone string `json:"phone"`
}

type VerifyOTPRequest struct {
	Phone string `json:"phone"`
	OTP   string `json:"otp"`
}

type UserResponse struct {
	User models.User `json:"user"`
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Email and password are required")
		return
	}

	account, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		h.logger.WithError(err).Error("Failed to look up user")
		respondWithError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to look up user")
		return
	}
	if account == nil || !service.CheckPassword(account.PasswordHash, req.Password) {
		respondWithError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
		return
	}

	pair, ok := h.issueTokens(w, r, account)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, AuthResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
		User:         account.Profile(),
	})
}

func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	email := repository.NormalizeEmail(req.Email)
	if !strings.Contains(email, "@") {
		respondWithError(w, http.StatusBadRequest, "INVALID_EMAIL", "A valid email is required")
		return
	}
	if strings.TrimSpace(req.FirstName) == "" {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "First name is required")
		return
	}

	account := &models.Account{
		Email:     email,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
	}
	if req.Phone != "" {
		phone, ok := normalizePhone(req.Phone)
		if !ok {
			respondWithError(w, http.StatusBadRequest, "INVALID_PHONE", "Invalid phone number format")
			return
		}
		account.PhoneNumber = phone
	}

	hash, err := service.HashPassword(req.Password)
	if errors.Is(err, service.ErrWeakPassword) {
		respondWithError(w, http.StatusBadRequest, "WEAK_PASSWORD", err.Error())
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to hash password")
		respondWithError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create user")
		return
	}
	account.PasswordHash = hash

	if err := h.users.Create(r.Context(), account); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			respondWithError(w, http.StatusConflict, "USER_EXISTS", "An account with this email or phone already exists")
			return
		}
		h.logger.WithError(err).Error("Failed to create user")
		respondWithError(w, http.StatusInternalServerError, "USER_CREATION_FAILED", "Failed to create user")
		return
	}
	h.logger.WithField("user_id", account.ID).Info("User registered")

	pair, ok := h.issueTokens(w, r, account)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusCreated, AuthResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
		User:         account.Profile(),
	})
}

// Refresh mints a new access token. The refresh token itself is not rotated.
func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	token := req.Token
	if token == "" {
		token = req.RefreshToken
	}
	if token == "" {
		respondWithError(w, http.StatusBadRequest, "MISSING_TOKEN", "Refresh token is required")
		return
	}

	claims, err := h.jwtService.VerifyToken(token)
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid refresh token")
		return
	}
	if claims.Type != service.TokenTypeRefresh {
		respondWithError(w, http.StatusUnauthorized, "INVALID_TOKEN_TYPE", "Token is not a refresh token")
		return
	}

	revoked, err := h.tokenService.IsRevoked(r.Context(), claims.JTI())
	if err != nil {
		h.logger.WithError(err).Error("Failed to check refresh token revocation")
		respondWithError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to validate token")
		return
	}
	if revoked {
		respondWithError(w, http.StatusUnauthorized, "TOKEN_REVOKED", "Refresh token has been revoked")
		return
	}

	account, err := h.users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to look up user")
		respondWithError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to look up user")
		return
	}
	if account == nil {
		respondWithError(w, http.StatusUnauthorized, "INVALID_TOKEN", "User no longer exists")
		return
	}

	access, err := h.jwtService.GenerateAccessToken(account.ID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "Failed to generate tokens")
		return
	}
	respondWithJSON(w, http.StatusOK, RefreshResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   h.accessTTL(access),
	})
}

func (h *AuthHandlers) accessTTL(token string) int64 {
	claims, err := h.jwtService.VerifyToken(token)
	if err != nil {
		return 0
	}
	return int64(time.Until(claims.Expiry()).Round(time.Second).Seconds())
}

// Verify returns the profile of the access token's owner.
func (h *AuthHandlers) Verify(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}

	account, err := h.users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to look up user")
		respondWithError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to look up user")
		return
	}
	if account == nil {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "User no longer exists")
		return
	}
	respondWithJSON(w, http.StatusOK, UserResponse{User: account.Profile()})
}

// Logout blacklists the presented access token and, when given, the
// caller's refresh token.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}

	if err := h.tokenService.Revoke(r.Context(), claims.JTI(), claims.Expiry()); err != nil {
		h.logger.WithError(err).Error("Failed to revoke access token")
		respondWithError(w, http.StatusInternalServerError, "LOGOUT_FAILED", "Failed to log out")
		return
	}

	var req LogoutRequest
	json.NewDecoder(r.Body).Decode(&req)

	if req.RefreshToken != "" {
		refreshClaims, err := h.jwtService.VerifyToken(req.RefreshToken)
		if err == nil && refreshClaims.Type == service.TokenTypeRefresh && refreshClaims.UserID == claims.UserID {
			if err := h.tokenService.Revoke(r.Context(), refreshClaims.JTI(), refreshClaims.Expiry()); err != nil {
				h.logger.WithError(err).Warn("Failed to revoke refresh token")
			}
		}
	}

	h.logger.WithField("user_id", claims.UserID).Info("User logged out")
	respondWithJSON(w, http.StatusOK, MessageResponse{Message: "Logged out successfully"})
}

func (h *AuthHandlers) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req OTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	phone, ok := normalizePhone(req.Phone)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "INVALID_PHONE", "Invalid phone number format")
		return
	}

	if _, err := h.otpService.GenerateOTP(r.Context(), phone); err != nil {
		h.logger.WithError(err).Error("Failed to generate OTP")
		respondWithError(w, http.StatusInternalServerError, "OTP_GENERATION_FAILED", "Failed to generate OTP")
		return
	}

	respondWithJSON(w, http.StatusOK, MessageResponse{Message: "OTP sent successfully"})
}

func (h *AuthHandlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	phone, ok := normalizePhone(req.Phone)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "INVALID_PHONE", "Invalid phone number format")
		return
	}
	otp := strings.TrimSpace(req.OTP)
	if len(otp) < 4 || len(otp) > 8 {
		respondWithError(w, http.StatusBadRequest, "INVALID_OTP", "Invalid OTP format")
		return
	}

	if err := h.otpService.VerifyOTP(r.Context(), phone, otp); err != nil {
		if errors.Is(err, service.ErrOTPMaxAttempts) {
			respondWithError(w, http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "Too many attempts, request a new code")
			return
		}
		respondWithError(w, http.StatusUnauthorized, "INVALID_OTP", "Invalid or expired OTP")
		return
	}

	account, err := h.users.GetByPhone(r.Context(), phone)
	if err == nil && account == nil {
		account = &models.Account{PhoneNumber: phone}
		err = h.users.Create(r.Context(), account)
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to get or create user")
		respondWithError(w, http.StatusInternalServerError, "USER_CREATION_FAILED", "Failed to create user")
		return
	}

	pair, ok := h.issueTokens(w, r, account)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, OTPAuthResponse{
		Token:        pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         account.Profile(),
	})
}

// issueTokens creates a token pair for account, tracks the refresh token
// and stamps the login. It writes the error response itself on failure.
func (h *AuthHandlers) issueTokens(w http.ResponseWriter, r *http.Request, account *models.Account) (*models.TokenPair, bool) {
	pair, refreshClaims, err := h.jwtService.GenerateTokenPair(account.ID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to generate tokens")
		respondWithError(w, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "Failed to generate tokens")
		return nil, false
	}

	if err := h.tokenService.Track(r.Context(), refreshClaims); err != nil {
		h.logger.WithError(err).Error("Failed to store refresh token")
	}

	now := time.Now()
	if err := h.users.RecordLogin(r.Context(), account.ID, now); err != nil {
		h.logger.WithError(err).Warn("Failed to record login time")
	} else {
		account.LastLogin = &now
	}
	return pair, true
}
