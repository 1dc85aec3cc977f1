package domain

import "time"

// PermManageContent allows question, mock test and roster administration.
const PermManageContent = "content:manage"

// Session is the authenticated identity carried by every request.
type Session struct {
	UserID      string    `json:"userId"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
	Token       string    `json:"token,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Can reports whether the session carries permission.
func (s Session) Can(permission string) bool {
	for _, p := range s.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// AuthEvent names a change in the authentication state.
type AuthEvent string

const (
	AuthSignedIn      AuthEvent = "SIGNED_IN"
	AuthSignedOut     AuthEvent = "SIGNED_OUT"
	AuthPasswordReset AuthEvent = "PASSWORD_RECOVERY"
)

// AuthChange is delivered to subscribers when a session starts or ends.
type AuthChange struct {
	Event   AuthEvent
	Session *Session
}
