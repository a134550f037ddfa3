package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the access-token payload minted by the external
// identity service. The fee engine only verifies and reads it.
type JWTClaims struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	jwt.RegisteredClaims
}
