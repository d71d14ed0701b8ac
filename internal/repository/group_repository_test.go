package repository

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/pkazmin/auth-rbac-service/internal/domain"
)

func createPermissions(t *testing.T, repo PermissionRepository, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := repo.Create(&domain.Permission{PermissionName: name}); err != nil {
			t.Fatalf("seed permission %s: %v", name, err)
		}
	}
}

func TestGroupRepositoryCreateResolvesPermissionNames(t *testing.T) {
	db := newTestDB(t)
	groups := NewGroupRepository(db)
	perms := NewPermissionRepository(db)
	createPermissions(t, perms, "groups.read", "groups.write")

	g, err := groups.Create("editors", []string{"groups.read", "groups.write"})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if g.GroupName != "editors" || len(g.Permissions) != 2 {
		t.Fatalf("unexpected group %+v", g)
	}

	loaded, err := groups.FindByID(g.ID)
	if err != nil {
		t.Fatalf("find group: %v", err)
	}
	if len(loaded.Permissions) != 2 {
		t.Fatalf("expected permissions to be attached, got %d", len(loaded.Permissions))
	}
}

func TestGroupRepositoryCreateRejectsUnknownPermission(t *testing.T) {
	db := newTestDB(t)
	groups := NewGroupRepository(db)
	perms := NewPermissionRepository(db)
	createPermissions(t, perms, "groups.read")

	_, err := groups.Create("editors", []string{"groups.read", "does.not_exist"})
	if !errors.Is(err, ErrPermissionMissing) {
		t.Fatalf("expected ErrPermissionMissing, got %v", err)
	}
	// The aborted create must not leave a group behind.
	if _, err := groups.FindByName("editors"); !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("expected no group row, got %v", err)
	}
}

func TestGroupRepositoryCreateDuplicateName(t *testing.T) {
	db := newTestDB(t)
	groups := NewGroupRepository(db)

	if _, err := groups.Create("editors", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := groups.Create("editors", nil)
	if !errors.Is(err, ErrDuplicateGroup) {
		t.Fatalf("expected ErrDuplicateGroup, got %v", err)
	}
}

func TestGroupRepositoryUpdateReplacesPermissionSet(t *testing.T) {
	db := newTestDB(t)
	groups := NewGroupRepository(db)
	perms := NewPermissionRepository(db)
	createPermissions(t, perms, "groups.read", "groups.write", "permissions.read")

	g, err := groups.Create("editors", []string{"groups.read"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := groups.Update(g.ID, "maintainers", []string{"groups.write", "permissions.read"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.GroupName != "maintainers" {
		t.Fatalf("expected renamed group, got %s", updated.GroupName)
	}
	names := map[string]bool{}
	for _, p := range updated.Permissions {
		names[p.PermissionName] = true
	}
	if len(names) != 2 || !names["groups.write"] || !names["permissions.read"] {
		t.Fatalf("expected replaced permission set, got %v", names)
	}

	_, err = groups.Update(uuid.New(), "ghost", nil)
	if !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("expected ErrGroupNotFound, got %v", err)
	}
}

func TestGroupRepositoryDeleteDetachesMembers(t *testing.T) {
	db := newTestDB(t)
	groups := NewGroupRepository(db)
	users := NewUserRepository(db)

	g, err := groups.Create("editors", nil)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	u := &domain.User{Login: "alice", Email: "alice@example.com", PasswordHash: "x"}
	if err := users.Create(u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := users.SetGroups(u.ID, []uuid.UUID{g.ID}); err != nil {
		t.Fatalf("assign group: %v", err)
	}

	if err := groups.DeleteByID(g.ID); err != nil {
		t.Fatalf("delete group: %v", err)
	}
	if _, err := groups.FindByID(g.ID); !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("expected group gone, got %v", err)
	}

	// The member loses the group but keeps the account.
	loaded, err := users.FindByID(u.ID)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if len(loaded.Groups) != 0 {
		t.Fatalf("expected membership cleared, got %d groups", len(loaded.Groups))
	}

	if err := groups.DeleteByID(uuid.New()); !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("expected ErrGroupNotFound for unknown id, got %v", err)
	}
}
