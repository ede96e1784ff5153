package auth

import "time"

// User is an account holder. PasswordHash is empty for accounts created
// purely through an external identity provider.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPassword reports whether the password sign-in method is available.
func (u *User) HasPassword() bool {
	return u != nil && u.PasswordHash != ""
}

// Role groups permissions. System roles cannot be deleted.
type Role struct {
	ID          string
	Name        string
	Description string
	IsSystem    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission is a fine-grained capability in canonical "resource:action" form.
type Permission struct {
	ID          string
	Name        string
	Resource    string
	Action      string
	Description string
	CreatedAt   time.Time
}

// Assignment gives a user a role.
type Assignment struct {
	UserID     string
	RoleID     string
	AssignedBy string
	CreatedAt  time.Time
}

// RefreshToken is the persisted half of a refresh credential. Only a hash of
// the secret is stored; the raw form is returned to the caller once.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
	UserAgent string
	IPAddress string
}

// OAuthConnection links a user to one external identity. The pair
// (Provider, ProviderUserID) is globally unique.
type OAuthConnection struct {
	UserID         string
	Provider       string
	ProviderUserID string
	Email          string
	DisplayName    string
	AvatarURL      string
	LinkedAt       time.Time
}

// ExternalIdentity is what a provider exchange yields after verifying an
// authorization code.
type ExternalIdentity struct {
	Provider       string
	ProviderUserID string
	Email          string
	DisplayName    string
	AvatarURL      string
}

// ClientMeta carries optional audit fields captured at issuance time.
type ClientMeta struct {
	UserAgent string
	IPAddress string
}
