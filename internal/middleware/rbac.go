package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-core-api/internal/models"
	appErrors "github.com/noah-isme/tutor-core-api/pkg/errors"
	"github.com/noah-isme/tutor-core-api/pkg/response"
)

// Policy decides which actors may reach a route.
type Policy struct {
	roles      map[models.Role]struct{}
	ownerParam string
}

// Roles admits any actor holding one of roles.
func Roles(roles ...models.Role) Policy {
	set := make(map[models.Role]struct{}, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return Policy{roles: set}
}

// OrOwner also admits the actor whose user id equals the named path parameter.
func (p Policy) OrOwner(param string) Policy {
	p.ownerParam = param
	return p
}

// Allows reports whether actor passes the policy; param resolves path parameters.
func (p Policy) Allows(actor models.Actor, param func(string) string) bool {
	if _, ok := p.roles[actor.Role]; ok {
		return true
	}
	if p.ownerParam == "" || param == nil {
		return false
	}
	owner := param(p.ownerParam)
	return owner != "" && owner == actor.UserID
}

// Authorize rejects requests whose actor fails p. It must run after JWT.
func Authorize(p Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFromContext(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !p.Allows(actor, c.Param) {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "role "+string(actor.Role)+" may not access this resource"))
			c.Abort()
			return
		}
		c.Next()
	}
}
