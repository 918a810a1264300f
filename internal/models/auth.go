package models

import "github.com/golang-jwt/jwt/v5"

// UserRole enumerates staff roles recognised by the API.
type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleTeacher UserRole = "teacher"
)

// Valid reports whether the role is recognised.
func (r UserRole) Valid() bool {
	return r == RoleAdmin || r == RoleTeacher
}

// JWTClaims are the claims carried by access tokens. Tokens are issued by
// the identity service; this API only validates and reads them.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}
