package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	iauth "github.com/campusguard/backend/internal/auth"
	"github.com/campusguard/backend/internal/middleware"
	"github.com/campusguard/backend/internal/models"
	"github.com/campusguard/backend/internal/services"
	apperrors "github.com/campusguard/backend/pkg/errors"
	"github.com/campusguard/backend/pkg/logger"
	"github.com/campusguard/backend/pkg/metrics"
	"github.com/campusguard/backend/pkg/response"
)

// AuthHandler manages registration, login, and email verification flows.
type AuthHandler struct {
	db           *gorm.DB
	local        *iauth.LocalAuthenticator
	jwt          *iauth.JWTService
	verification *services.VerificationService
}

func NewAuthHandler(db *gorm.DB, local *iauth.LocalAuthenticator, jwt *iauth.JWTService, verification *services.VerificationService) *AuthHandler {
	return &AuthHandler{db: db, local: local, jwt: jwt, verification: verification}
}

type registerRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8,max=128"`
	FirstName string `json:"first_name" validate:"required,max=64"`
	LastName  string `json:"last_name" validate:"max=64"`
	StudentID string `json:"student_id" validate:"max=32"`
	Phone     string `json:"phone" validate:"max=32"`
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.local.Register(iauth.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		StudentID: req.StudentID,
		Phone:     req.Phone,
	})
	if errors.Is(err, iauth.ErrEmailTaken) {
		response.Error(c, apperrors.NewBadRequest("Email is already registered"))
		return
	}
	if err != nil {
		response.Error(c, apperrors.Wrap(err, "Failed to register account"))
		return
	}

	if _, err := h.verification.IssueToken(c.Request.Context(), user.ID); err != nil {
		// Registration stands; the user can request a resend.
		logger.WithModule("auth").Error("failed to issue verification token",
			zap.String("user_id", user.ID), zap.Error(err))
	}

	response.Success(c, http.StatusCreated, userPayload(user))
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.local.Authenticate(iauth.AuthenticateInput{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: c.ClientIP(),
	})
	switch {
	case errors.Is(err, iauth.ErrAccountLocked):
		metrics.AuthAttempts.WithLabelValues("locked").Inc()
		response.Error(c, apperrors.ErrAccountLocked)
		return
	case errors.Is(err, iauth.ErrAccountDisabled):
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, apperrors.ErrAccountInactive)
		return
	case errors.Is(err, iauth.ErrInvalidCredentials):
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, apperrors.ErrInvalidCredentials)
		return
	case err != nil:
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, apperrors.Wrap(err, "Login failed"))
		return
	}

	token, err := h.jwt.GenerateAccessToken(iauth.AccessTokenInput{UserID: user.ID, Email: user.Email})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, apperrors.ErrInternalServer)
		return
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()

	response.Success(c, http.StatusOK, gin.H{
		"tokens": tokenResponse{AccessToken: token, TokenType: "Bearer"},
		"user":   userPayload(user),
	})
}

type verifyRequest struct {
	Token string `json:"token" validate:"required"`
}

// POST /api/auth/verify
func (h *AuthHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.verification.Consume(c.Request.Context(), req.Token); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"verified": true})
}

type resendRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// POST /api/auth/verify/resend
func (h *AuthHandler) ResendVerification(c *gin.Context) {
	var req resendRequest
	if !bindAndValidate(c, &req) {
		return
	}

	var user models.User
	err := h.db.WithContext(c.Request.Context()).
		Where("LOWER(email) = LOWER(?)", req.Email).
		Take(&user).Error
	if err == nil && !user.IsVerified {
		if _, err := h.verification.IssueToken(c.Request.Context(), user.ID); err != nil {
			logger.WithModule("auth").Error("failed to reissue verification token",
				zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	// Always answer 200 so the endpoint cannot be used to probe for accounts.
	response.Success(c, http.StatusOK, gin.H{"sent": true})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user == nil {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	response.Success(c, http.StatusOK, userPayload(user))
}

func userPayload(user *models.User) gin.H {
	return gin.H{
		"id":          user.ID,
		"email":       user.Email,
		"first_name":  user.FirstName,
		"last_name":   user.LastName,
		"student_id":  user.StudentID,
		"phone":       user.Phone,
		"is_active":   user.IsActive,
		"is_verified": user.IsVerified,
		"created_at":  user.CreatedAt,
	}
}
