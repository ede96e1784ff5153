package auth

import "context"

// Store describes the persistence operations the core consumes. Lookups
// return ErrNotFound, uniqueness violations return ErrConflict; everything
// else is an infrastructure failure passed through as-is.
type Store interface {
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) RoleStore
	Permissions(ctx context.Context) PermissionStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
	Connections(ctx context.Context) ConnectionStore
}

// UserStore manages user accounts. Email lookups are case-normalized by the
// caller.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User) error
}

// RoleStore manages roles and user-role assignments. Delete cascades the
// role's permission links and assignments.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	Delete(ctx context.Context, id string) error
	Assign(ctx context.Context, a Assignment) error
	Unassign(ctx context.Context, userID, roleID string) error
	Assignments(ctx context.Context, userID string) ([]Assignment, error)
}

// PermissionStore manages the permission catalog, role permissions and
// individual user grants.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	Create(ctx context.Context, p *Permission) error
	FindByName(ctx context.Context, name string) (*Permission, error)
	List(ctx context.Context, offset, limit int) ([]*Permission, error)
	SetForRole(ctx context.Context, roleID string, names []string) error
	ForRole(ctx context.Context, roleID string) ([]*Permission, error)
	Grant(ctx context.Context, userID, permissionID string) error
	Revoke(ctx context.Context, userID, permissionID string) error
	GrantsForUser(ctx context.Context, userID string) ([]*Permission, error)
}

// RefreshTokenStore manages refresh token records. MarkRevoked is an atomic
// claim: it transitions revoked from false to true and returns ErrNotFound
// when the record is missing or was already revoked, so a consume racing a
// revoke-all can never both win.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	MarkRevoked(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) (int, error)
}

// ConnectionStore manages external identity links. Create must detect a
// (provider, providerUserID) collision atomically, e.g. via a uniqueness
// constraint, and report it as ErrConflict.
type ConnectionStore interface {
	Create(ctx context.Context, conn *OAuthConnection) error
	FindByProviderIdentity(ctx context.Context, provider, providerUserID string) (*OAuthConnection, error)
	ListByUser(ctx context.Context, userID string) ([]*OAuthConnection, error)
	Delete(ctx context.Context, userID, provider string) error
}
