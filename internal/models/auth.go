package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims are the claims expected on bearer tokens issued by the identity service.
type JWTClaims struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	jwt.RegisteredClaims
}

// Actor converts the claims into the acting principal.
func (c JWTClaims) Actor() Actor {
	return Actor{UserID: c.UserID, Role: c.Role}
}
