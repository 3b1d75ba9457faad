package auth

import "time"

// Account roles. Anything else is rejected at registration time.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Account is the identity record. It owns the single refresh-token slot: at
// most one refresh token is valid per account at any instant, and issuing a
// new one supersedes the previous value. The reset challenge follows the same
// single-slot pattern at lower stakes.
type Account struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         string
	RefreshToken *string
	ResetCode    *string
	ResetExpires *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PublicAccount is the externally visible account shape. The password hash
// and the refresh token value must never leave the service in any response.
type PublicAccount struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Public strips the account down to its response-safe view.
func (a *Account) Public() PublicAccount {
	return PublicAccount{
		ID:    a.ID,
		Name:  a.Name,
		Email: a.Email,
		Role:  a.Role,
	}
}
