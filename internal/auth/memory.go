package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gatekit.org/internal/ids"
)

// MemoryStore is an in-memory Store for tests and local development. All
// operations run under a single mutex, which also gives the uniqueness
// checks the atomicity the Store contract asks for.
type MemoryStore struct {
	mu sync.Mutex

	users       map[string]*User // by id
	userByEmail map[string]string

	roles       map[string]*Role // by id
	roleByName  map[string]string
	rolePerms   map[string][]string  // roleID -> permission names
	assignments map[string][]Assignment

	perms      map[string]*Permission // by id
	permByName map[string]string
	userGrants map[string]map[string]struct{} // userID -> permission ids

	refresh map[string]*RefreshToken

	conns       map[string]*OAuthConnection // provider/providerUserID
	connsByUser map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*User),
		userByEmail: make(map[string]string),
		roles:       make(map[string]*Role),
		roleByName:  make(map[string]string),
		rolePerms:   make(map[string][]string),
		assignments: make(map[string][]Assignment),
		perms:       make(map[string]*Permission),
		permByName:  make(map[string]string),
		userGrants:  make(map[string]map[string]struct{}),
		refresh:     make(map[string]*RefreshToken),
		conns:       make(map[string]*OAuthConnection),
		connsByUser: make(map[string][]string),
	}
}

func (m *MemoryStore) Users(context.Context) UserStore               { return (*memoryUsers)(m) }
func (m *MemoryStore) Roles(context.Context) RoleStore               { return (*memoryRoles)(m) }
func (m *MemoryStore) Permissions(context.Context) PermissionStore   { return (*memoryPerms)(m) }
func (m *MemoryStore) RefreshTokens(context.Context) RefreshTokenStore { return (*memoryRefresh)(m) }
func (m *MemoryStore) Connections(context.Context) ConnectionStore   { return (*memoryConns)(m) }

func connKey(provider, providerUserID string) string {
	return provider + "/" + providerUserID
}

type memoryUsers MemoryStore

func (m *memoryUsers) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return fmt.Errorf("%w: user %s", ErrConflict, u.ID)
	}
	if _, ok := m.userByEmail[u.Email]; ok {
		return fmt.Errorf("%w: email already registered", ErrConflict)
	}
	cp := *u
	m.users[u.ID] = &cp
	m.userByEmail[u.Email] = u.ID
	return nil
}

func (m *memoryUsers) Find(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	cp := *u
	return &cp, nil
}

func (m *memoryUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.userByEmail[email]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, email)
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *memoryUsers) Update(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.users[u.ID]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, u.ID)
	}
	if u.Email != old.Email {
		if owner, taken := m.userByEmail[u.Email]; taken && owner != u.ID {
			return fmt.Errorf("%w: email already registered", ErrConflict)
		}
		delete(m.userByEmail, old.Email)
		m.userByEmail[u.Email] = u.ID
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

type memoryRoles MemoryStore

func (m *memoryRoles) Create(_ context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roleByName[role.Name]; ok {
		return fmt.Errorf("%w: role %q", ErrConflict, role.Name)
	}
	cp := *role
	m.roles[role.ID] = &cp
	m.roleByName[role.Name] = role.ID
	return nil
}

func (m *memoryRoles) Find(_ context.Context, id string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, fmt.Errorf("%w: role %s", ErrNotFound, id)
	}
	cp := *r
	return &cp, nil
}

func (m *memoryRoles) FindByName(_ context.Context, name string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.roleByName[name]
	if !ok {
		return nil, fmt.Errorf("%w: role %q", ErrNotFound, name)
	}
	cp := *m.roles[id]
	return &cp, nil
}

func (m *memoryRoles) List(_ context.Context) ([]*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Role, 0, len(m.roles))
	for _, r := range m.roles {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memoryRoles) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[id]
	if !ok {
		return fmt.Errorf("%w: role %s", ErrNotFound, id)
	}
	delete(m.roles, id)
	delete(m.roleByName, role.Name)
	delete(m.rolePerms, id)
	for userID, list := range m.assignments {
		kept := list[:0]
		for _, a := range list {
			if a.RoleID != id {
				kept = append(kept, a)
			}
		}
		if len(kept) == 0 {
			delete(m.assignments, userID)
		} else {
			m.assignments[userID] = kept
		}
	}
	return nil
}

func (m *memoryRoles) Assign(_ context.Context, a Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, have := range m.assignments[a.UserID] {
		if have.RoleID == a.RoleID {
			return nil
		}
	}
	m.assignments[a.UserID] = append(m.assignments[a.UserID], a)
	return nil
}

func (m *memoryRoles) Unassign(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.assignments[userID]
	for i, a := range list {
		if a.RoleID == roleID {
			m.assignments[userID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: assignment", ErrNotFound)
}

func (m *memoryRoles) Assignments(_ context.Context, userID string) ([]Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.assignments[userID]
	out := make([]Assignment, len(list))
	copy(out, list)
	return out, nil
}

type memoryPerms MemoryStore

func (m *memoryPerms) Ensure(_ context.Context, perms []Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range perms {
		if _, ok := m.permByName[p.Name]; ok {
			continue
		}
		cp := p
		if cp.ID == "" {
			cp.ID = ids.New()
		}
		m.perms[cp.ID] = &cp
		m.permByName[cp.Name] = cp.ID
	}
	return nil
}

func (m *memoryPerms) Create(_ context.Context, p *Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.permByName[p.Name]; ok {
		return fmt.Errorf("%w: permission %q", ErrConflict, p.Name)
	}
	cp := *p
	m.perms[p.ID] = &cp
	m.permByName[p.Name] = p.ID
	return nil
}

func (m *memoryPerms) FindByName(_ context.Context, name string) (*Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.permByName[name]
	if !ok {
		return nil, fmt.Errorf("%w: permission %q", ErrNotFound, name)
	}
	cp := *m.perms[id]
	return &cp, nil
}

func (m *memoryPerms) List(_ context.Context, offset, limit int) ([]*Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]*Permission, 0, len(m.perms))
	for _, p := range m.perms {
		cp := *p
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *memoryPerms) SetForRole(_ context.Context, roleID string, names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	for _, name := range names {
		if _, ok := m.permByName[name]; !ok {
			return fmt.Errorf("%w: permission %q", ErrNotFound, name)
		}
	}
	m.rolePerms[roleID] = append([]string(nil), names...)
	return nil
}

func (m *memoryPerms) ForRole(_ context.Context, roleID string) ([]*Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := m.rolePerms[roleID]
	out := make([]*Permission, 0, len(names))
	for _, name := range names {
		if id, ok := m.permByName[name]; ok {
			cp := *m.perms[id]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memoryPerms) Grant(_ context.Context, userID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.perms[permissionID]; !ok {
		return fmt.Errorf("%w: permission %s", ErrNotFound, permissionID)
	}
	set, ok := m.userGrants[userID]
	if !ok {
		set = make(map[string]struct{})
		m.userGrants[userID] = set
	}
	set[permissionID] = struct{}{}
	return nil
}

func (m *memoryPerms) Revoke(_ context.Context, userID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.userGrants[userID]
	if _, ok := set[permissionID]; !ok {
		return fmt.Errorf("%w: grant", ErrNotFound)
	}
	delete(set, permissionID)
	return nil
}

func (m *memoryPerms) GrantsForUser(_ context.Context, userID string) ([]*Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.userGrants[userID]
	out := make([]*Permission, 0, len(set))
	for id := range set {
		if p, ok := m.perms[id]; ok {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type memoryRefresh MemoryStore

func (m *memoryRefresh) Create(_ context.Context, tok *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refresh[tok.ID]; ok {
		return fmt.Errorf("%w: refresh token %s", ErrConflict, tok.ID)
	}
	cp := *tok
	m.refresh[tok.ID] = &cp
	return nil
}

func (m *memoryRefresh) Find(_ context.Context, id string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.refresh[id]
	if !ok {
		return nil, fmt.Errorf("%w: refresh token %s", ErrNotFound, id)
	}
	cp := *tok
	return &cp, nil
}

func (m *memoryRefresh) MarkRevoked(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.refresh[id]
	if !ok || tok.Revoked {
		return fmt.Errorf("%w: refresh token %s", ErrNotFound, id)
	}
	tok.Revoked = true
	return nil
}

func (m *memoryRefresh) RevokeAllForUser(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for _, tok := range m.refresh {
		if tok.UserID == userID && !tok.Revoked {
			tok.Revoked = true
			n++
		}
	}
	return n, nil
}

type memoryConns MemoryStore

func (m *memoryConns) Create(_ context.Context, conn *OAuthConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := connKey(conn.Provider, conn.ProviderUserID)
	if _, ok := m.conns[key]; ok {
		return fmt.Errorf("%w: identity already linked", ErrConflict)
	}
	for _, k := range m.connsByUser[conn.UserID] {
		if strings.HasPrefix(k, conn.Provider+"/") {
			return fmt.Errorf("%w: provider already linked", ErrConflict)
		}
	}
	cp := *conn
	m.conns[key] = &cp
	m.connsByUser[conn.UserID] = append(m.connsByUser[conn.UserID], key)
	return nil
}

func (m *memoryConns) FindByProviderIdentity(_ context.Context, provider, providerUserID string) (*OAuthConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[connKey(provider, providerUserID)]
	if !ok {
		return nil, fmt.Errorf("%w: connection", ErrNotFound)
	}
	cp := *conn
	return &cp, nil
}

// ListByUser returns connections most recently linked first.
func (m *memoryConns) ListByUser(_ context.Context, userID string) ([]*OAuthConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := m.connsByUser[userID]
	out := make([]*OAuthConnection, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		cp := *m.conns[keys[i]]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memoryConns) Delete(_ context.Context, userID, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := m.connsByUser[userID]
	for i, k := range keys {
		if strings.HasPrefix(k, provider+"/") {
			delete(m.conns, k)
			m.connsByUser[userID] = append(keys[:i], keys[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: connection", ErrNotFound)
}
