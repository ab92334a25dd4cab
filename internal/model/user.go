package model

import "time"

// User is an authenticated account.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Role  string `json:"role,omitempty"`
}

// IsAdmin reports whether the account may use the admin dashboard.
func (u User) IsAdmin() bool { return u.Role == "admin" }

// Profile is the editable part of an account.
type Profile struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// AuthSession is the result of a successful sign-in.
type AuthSession struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}
