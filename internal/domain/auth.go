package domain

import "github.com/golang-jwt/jwt/v5"

// CustomClaims — клеймы операторского токена Console/CLI.
// Scopes: "silence:write" для управления заглушками алертов.
type CustomClaims struct {
	UserID string          `json:"uid"`
	Scopes map[string]bool `json:"scopes"`
	jwt.RegisteredClaims
}
