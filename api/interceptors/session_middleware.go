package interceptors

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/log/level"
	"github.com/sourcedrop/sourcedrop-server/global"
	"github.com/sourcedrop/sourcedrop-server/services"
	"github.com/sourcedrop/sourcedrop-server/types"
)

const (
	sessionKey       = "session"
	sourceContextKey = "sourceContext"
)

// SessionMiddleware decrypts the session token (Authorization bearer or
// cookie) of every request. Missing or invalid tokens yield an anonymous session.
func SessionMiddleware(tokens *TokenCodec, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := &types.SourceSession{State: types.SessionAnonymous}
		token := ""
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		} else if cookie, err := c.Cookie(cookieName); err == nil {
			token = cookie
		}
		if token != "" {
			opened, err := tokens.Open(token)
			if err == nil {
				sess = opened
			}
		}
		c.Set(sessionKey, sess)
		c.Next()
	}
}

// LoginRequired resolves the source context of an authenticated session or
// aborts with 401
func LoginRequired(identity *services.IdentityService) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := GetSession(c)
		srcCtx, err := identity.Resolve(c.Request.Context(), sess)
		if err != nil {
			if errors.Is(err, types.ErrUnknownIdentity) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "not logged in"})
				return
			}
			level.Error(global.Logger).Log("msg", "failed to resolve source", "err", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "message": "service unavailable"})
			return
		}
		c.Set(sourceContextKey, srcCtx)
		c.Next()
	}
}

// GetSession returns the request session set by SessionMiddleware
func GetSession(c *gin.Context) *types.SourceSession {
	if v, ok := c.Get(sessionKey); ok {
		if sess, ok := v.(*types.SourceSession); ok {
			return sess
		}
	}
	return &types.SourceSession{State: types.SessionAnonymous}
}

// GetSourceContext returns the context resolved by LoginRequired
func GetSourceContext(c *gin.Context) *types.SourceContext {
	if v, ok := c.Get(sourceContextKey); ok {
		if srcCtx, ok := v.(*types.SourceContext); ok {
			return srcCtx
		}
	}
	return nil
}
