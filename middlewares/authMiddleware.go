package middlewares

import (
	"context"
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/photoid_backend/appctx"
	"bitbucket.org/mmdatafocus/photoid_backend/models"
	"bitbucket.org/mmdatafocus/photoid_backend/utils"
	"github.com/gin-gonic/gin"
)

// AuthMiddleware parses an optional Bearer token and attaches the staff
// identity and capability set to the request context. Requests without a
// token pass through anonymously; the capability gate decides later.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")

		if auth == "" {
			c.Next()
			return
		}

		const bearer = "Bearer "
		if !strings.HasPrefix(auth, bearer) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		auth = auth[len(bearer):]

		validate, err := utils.JwtValidate(auth)
		if err != nil || !validate.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		claim, _ := validate.Claims.(*utils.JwtCustomClaim)

		ctx := c.Request.Context()
		ctx = appctx.Set(ctx, appctx.ContextKeyToken, auth)
		ctx = appctx.Set(ctx, appctx.ContextKeyUserId, claim.ID)
		ctx = appctx.Set(ctx, appctx.ContextKeyUserName, claim.Name)
		ctx = appctx.Set(ctx, appctx.ContextKeyCapabilities, claim.Capabilities)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequirePhotoIDManager is the AccessGate for every staff read and write
// on stored IDs. The customer re-upload path never passes through here; it
// authorizes with the order's re-upload token instead.
func RequirePhotoIDManager() gin.HandlerFunc {
	return func(c *gin.Context) {
		caps, ok := appctx.GetStrings(c.Request.Context(), appctx.ContextKeyCapabilities)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		if !models.CanManagePhotoID(caps) {
			c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// StaffFromContext returns the authenticated staff identity, if any.
func StaffFromContext(ctx context.Context) (id int, name string, ok bool) {
	id, ok = appctx.GetInt(ctx, appctx.ContextKeyUserId)
	if !ok {
		return 0, "", false
	}
	name, _ = appctx.GetString(ctx, appctx.ContextKeyUserName)
	return id, name, true
}
