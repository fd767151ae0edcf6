package auth

import (
	"time"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

// User represents an authenticated user account.
type User struct {
	ID           int64       `json:"id"`
	Name         string      `json:"name"`
	Email        string      `json:"email"`
	PasswordHash string      `json:"-"`
	Role         shared.Role `json:"role"`
	IsActive     bool        `json:"isActive"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// Principal returns the request identity for u.
func (u User) Principal() shared.Principal {
	return shared.Principal{UserID: u.ID, Name: u.Name, Role: u.Role}
}

// Session is the result of a successful login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      User      `json:"user"`
}
