package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the JWT claims issued by the demo credential collaborator
// on successful authentication.
type TokenClaims struct {
	Type    string `json:"type"`
	Account string `json:"account"`
	jwt.RegisteredClaims
}
