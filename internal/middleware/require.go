package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/campusguard/backend/internal/models"
	apperrors "github.com/campusguard/backend/pkg/errors"
	"github.com/campusguard/backend/pkg/response"
)

// RequireActiveUser loads the authenticated account and rejects requests from
// unknown or deactivated accounts. The loaded user is attached to the context
// for downstream handlers. Must run after Auth.
func RequireActiveUser(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := UserID(c)
		if userID == "" {
			response.Error(c, apperrors.ErrUnauthorized)
			c.Abort()
			return
		}

		var user models.User
		err := db.WithContext(c.Request.Context()).Take(&user, "id = ?", userID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.Error(c, apperrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if err != nil {
			response.Error(c, apperrors.Wrap(err, "Failed to load account"))
			c.Abort()
			return
		}
		if !user.IsActive {
			response.Error(c, apperrors.ErrAccountInactive)
			c.Abort()
			return
		}

		c.Set(CtxUserKey, &user)
		c.Next()
	}
}

// RequireVerified rejects accounts that have not completed email
// verification. Must run after RequireActiveUser.
func RequireVerified() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			response.Error(c, apperrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !user.IsVerified {
			response.Error(c, apperrors.ErrNotVerified)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireProfile ensures the account has a health profile before it can use
// safety features, attaching the profile to the context. Must run after
// RequireActiveUser.
func RequireProfile(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := UserID(c)
		if userID == "" {
			response.Error(c, apperrors.ErrUnauthorized)
			c.Abort()
			return
		}

		var profile models.HealthProfile
		err := db.WithContext(c.Request.Context()).Where("user_id = ?", userID).Take(&profile).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.Error(c, apperrors.ErrProfileRequired)
			c.Abort()
			return
		}
		if err != nil {
			response.Error(c, apperrors.Wrap(err, "Failed to load health profile"))
			c.Abort()
			return
		}

		c.Set(CtxProfileKey, &profile)
		c.Next()
	}
}

// CurrentUser returns the account loaded by RequireActiveUser, or nil.
func CurrentUser(c *gin.Context) *models.User {
	value, ok := c.Get(CtxUserKey)
	if !ok {
		return nil
	}
	user, _ := value.(*models.User)
	return user
}

// CurrentProfile returns the profile loaded by RequireProfile, or nil.
func CurrentProfile(c *gin.Context) *models.HealthProfile {
	value, ok := c.Get(CtxProfileKey)
	if !ok {
		return nil
	}
	profile, _ := value.(*models.HealthProfile)
	return profile
}
