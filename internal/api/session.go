package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const sessionKey = "session_id"

// sessionMiddleware resolves the browser session from the header or cookie,
// minting a new one when neither carries a valid id
func (h *Handler) sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(h.cfg.SessionHeader)
		if id == "" {
			id, _ = c.Cookie(h.cfg.SessionCookie)
		}
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}

		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(h.cfg.SessionCookie, id, int(h.cfg.SessionTTL.Seconds()), "/", "", h.cfg.SecureCookie, true)
		c.Header(h.cfg.SessionHeader, id)
		c.Set(sessionKey, id)
		c.Next()
	}
}

func sessionID(c *gin.Context) string {
	return c.GetString(sessionKey)
}
