package auth

import (
	"net/http"
	"strings"

	"marketing-server/internal/observability"

	"github.com/gin-gonic/gin"
)

const actorContextKey = "admin_actor"

// Middleware parses the bearer session token and stores the acting admin in
// the gin context. Requests without a valid session are rejected.
func (s Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"ok":    false,
				"error": "Authentication required.",
			})
			return
		}

		actor, err := s.ValidateSessionToken(ctx, strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"ok":    false,
				"error": "Authentication required.",
			})
			return
		}

		ctx = observability.WithFields(ctx,
			observability.Field{Key: "actor_id", Value: actor.ID.String()},
			observability.Field{Key: "actor_email", Value: actor.Email},
		)
		c.Request = c.Request.WithContext(ctx)
		c.Set(actorContextKey, actor)
		c.Next()
	}
}

// ActorFromContext returns the admin stored by the middleware.
func ActorFromContext(c *gin.Context) (Actor, bool) {
	value, exists := c.Get(actorContextKey)
	if !exists {
		return Actor{}, false
	}
	actor, ok := value.(Actor)
	return actor, ok
}
