package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/wwfm-backend/internal/http/response"
	"github.com/yungbote/wwfm-backend/internal/platform/apierr"
	"github.com/yungbote/wwfm-backend/internal/platform/logger"
)

type CronAuthMiddleware struct {
	log    *logger.Logger
	secret string
}

// NewCronAuthMiddleware guards cron routes with a shared bearer secret. An
// empty secret leaves the routes open.
func NewCronAuthMiddleware(log *logger.Logger, secret string) *CronAuthMiddleware {
	return &CronAuthMiddleware{
		log:    log.With("middleware", "CronAuth"),
		secret: strings.TrimSpace(secret),
	}
}

func (m *CronAuthMiddleware) RequireCronSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.secret == "" {
			c.Next()
			return
		}
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(m.secret)) != 1 {
			m.log.Warn("cron request rejected", "path", c.FullPath(), "client_ip", c.ClientIP())
			err := apierr.Unauthorized()
			response.RespondError(c, err.Status, err.Code, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
