package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"gatekit.org/internal/auth"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserStoreCreateMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectExec("insert into users").
		WithArgs("u-1", "ada@example.com", "", "hash", true, now, now).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := store.Users(ctx).Create(ctx, &auth.User{
		ID: "u-1", Email: "ada@example.com", PasswordHash: "hash", Active: true,
		CreatedAt: now, UpdatedAt: now,
	})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestUserStoreFindByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	cols := []string{"id", "email", "display_name", "password_hash", "active", "created_at", "updated_at"}
	mock.ExpectQuery("select id, email, display_name, password_hash, active, created_at, updated_at.*from users").
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("u-1", "ada@example.com", "Ada", "hash", true, now, now))

	user, err := store.Users(ctx).FindByEmail(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if user.ID != "u-1" || user.DisplayName != "Ada" || !user.Active {
		t.Fatalf("user = %+v", user)
	}

	mock.ExpectQuery("select id, email, display_name, password_hash, active, created_at, updated_at.*from users").
		WithArgs("ghost@example.com").
		WillReturnRows(sqlmock.NewRows(cols))
	if _, err := store.Users(ctx).FindByEmail(ctx, "ghost@example.com"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestUserStoreUpdateMissingRow(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectExec("update users").
		WithArgs("u-missing", "a@b.c", "", "hash", true, now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Users(ctx).Update(ctx, &auth.User{
		ID: "u-missing", Email: "a@b.c", PasswordHash: "hash", Active: true, UpdatedAt: now,
	})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestRoleDeleteCascades(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("delete from role_permissions").WithArgs("r-1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("delete from user_roles").WithArgs("r-1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("delete from roles").WithArgs("r-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.Roles(ctx).Delete(ctx, "r-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	expectationsMet(t, mock)
}

func TestRoleDeleteMissingRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("delete from role_permissions").WithArgs("r-missing").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from user_roles").WithArgs("r-missing").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from roles").WithArgs("r-missing").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if err := store.Roles(ctx).Delete(ctx, "r-missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestSetForRoleUnknownPermission(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("delete from role_permissions").WithArgs("r-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into role_permissions").WithArgs("r-1", "ghosts:walk").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.Permissions(ctx).SetForRole(ctx, "r-1", []string{"ghosts:walk"})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestRefreshTokenRevokeAllCounts(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("update refresh_tokens set revoked = true").
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := store.RefreshTokens(ctx).RevokeAllForUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}
	if n != 4 {
		t.Fatalf("revoked %d, want 4", n)
	}
	expectationsMet(t, mock)
}

func TestConnectionCreateConflict(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectExec("insert into oauth_connections").
		WithArgs("u-1", "google", "g-1", "", "", "", now).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := store.Connections(ctx).Create(ctx, &auth.OAuthConnection{
		UserID: "u-1", Provider: "google", ProviderUserID: "g-1", LinkedAt: now,
	})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestConnectionDeleteMissing(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("delete from oauth_connections").
		WithArgs("u-1", "github").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.Connections(ctx).Delete(ctx, "u-1", "github"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestPermissionsForRole(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	cols := []string{"id", "name", "resource", "action", "description", "created_at"}
	mock.ExpectQuery("select p.id, p.name, p.resource, p.action, p.description, p.created_at.*from permissions").
		WithArgs("r-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("p-1", "reports:read", "reports", "read", "", now).
			AddRow("p-2", "reports:export", "reports", "export", "", now))

	perms, err := store.Permissions(ctx).ForRole(ctx, "r-1")
	if err != nil {
		t.Fatalf("ForRole: %v", err)
	}
	if len(perms) != 2 || perms[0].Name != "reports:read" {
		t.Fatalf("perms = %+v", perms)
	}
	expectationsMet(t, mock)
}

func TestRefreshTokenMarkRevokedIsConditional(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`update refresh_tokens set revoked = true\s+where id = \$1 and revoked = false`).
		WithArgs("rt-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.RefreshTokens(ctx).MarkRevoked(ctx, "rt-1"); err != nil {
		t.Fatalf("MarkRevoked: %v", err)
	}

	// Already revoked (e.g. by a concurrent revoke-all): zero rows, the claim
	// is lost.
	mock.ExpectExec(`update refresh_tokens set revoked = true\s+where id = \$1 and revoked = false`).
		WithArgs("rt-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.RefreshTokens(ctx).MarkRevoked(ctx, "rt-1"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("MarkRevoked on revoked row = %v, want ErrNotFound", err)
	}
	expectationsMet(t, mock)
}
