package users

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sentinel-iam/sentinel-iam/internal/audit"
	"github.com/sentinel-iam/sentinel-iam/internal/rbac"
	"github.com/sentinel-iam/sentinel-iam/internal/shared"
)

type memUsers struct {
	users      map[int64]User
	passwords  map[int64]string
	roleIDs    map[int64][]int64
	permIDs    map[int64][]int64
	knownRoles map[int64]rbac.Role
	knownPerms map[int64]rbac.Permission
	audits     []audit.Entry
	nextID     int64
}

func newMemUsers() *memUsers {
	return &memUsers{
		users:      make(map[int64]User),
		passwords:  make(map[int64]string),
		roleIDs:    make(map[int64][]int64),
		permIDs:    make(map[int64][]int64),
		knownRoles: make(map[int64]rbac.Role),
		knownPerms: make(map[int64]rbac.Permission),
		nextID:     1,
	}
}

func (m *memUsers) addUser(name, username string) User {
	user := User{ID: m.nextID, Name: name, Username: username}
	m.nextID++
	m.users[user.ID] = user
	return user
}

func (m *memUsers) addKnownRole(id int64, name string) {
	m.knownRoles[id] = rbac.Role{ID: id, Name: name}
}

func (m *memUsers) addKnownPerm(id int64, name string) {
	m.knownPerms[id] = rbac.Permission{ID: id, Name: name}
}

func (m *memUsers) snapshot() *memUsers {
	clone := newMemUsers()
	clone.nextID = m.nextID
	for id, u := range m.users {
		clone.users[id] = u
	}
	for id, p := range m.passwords {
		clone.passwords[id] = p
	}
	for id, ids := range m.roleIDs {
		clone.roleIDs[id] = append([]int64(nil), ids...)
	}
	for id, ids := range m.permIDs {
		clone.permIDs[id] = append([]int64(nil), ids...)
	}
	clone.knownRoles = m.knownRoles
	clone.knownPerms = m.knownPerms
	clone.audits = append([]audit.Entry(nil), m.audits...)
	return clone
}

func (m *memUsers) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snap := m.snapshot()
	if err := fn(ctx, (*memUsersTx)(m)); err != nil {
		*m = *snap
		return err
	}
	return nil
}

func (m *memUsers) GetUser(_ context.Context, id int64) (User, error) {
	user, ok := m.users[id]
	if !ok || user.DeletedAt != nil {
		return User{}, shared.ErrNotFound
	}
	return user, nil
}

func (m *memUsers) ListUsers(context.Context) ([]User, error) {
	var out []User
	for id := int64(1); id < m.nextID; id++ {
		if user, ok := m.users[id]; ok && user.DeletedAt == nil {
			out = append(out, user)
		}
	}
	return out, nil
}

func (m *memUsers) UserRoleIDs(_ context.Context, id int64) ([]int64, error) {
	return append([]int64(nil), m.roleIDs[id]...), nil
}

func (m *memUsers) UserDirectPermissionIDs(_ context.Context, id int64) ([]int64, error) {
	return append([]int64(nil), m.permIDs[id]...), nil
}

// GraphReader backed by the same fixture data.
func (m *memUsers) RolesForUser(_ context.Context, userID int64) ([]rbac.Role, error) {
	var roles []rbac.Role
	for _, id := range m.roleIDs[userID] {
		if role, ok := m.knownRoles[id]; ok {
			roles = append(roles, role)
		}
	}
	return roles, nil
}

func (m *memUsers) DirectPermissions(_ context.Context, userID int64) ([]rbac.Permission, error) {
	var perms []rbac.Permission
	for _, id := range m.permIDs[userID] {
		if perm, ok := m.knownPerms[id]; ok {
			perms = append(perms, perm)
		}
	}
	return perms, nil
}

type memUsersTx memUsers

func (t *memUsersTx) repo() *memUsers { return (*memUsers)(t) }

func (t *memUsersTx) InsertUser(_ context.Context, name, username, passwordHash string, createdBy int64) (User, error) {
	m := t.repo()
	user := User{ID: m.nextID, Name: name, Username: username, CreatedBy: &createdBy}
	m.nextID++
	m.users[user.ID] = user
	m.passwords[user.ID] = passwordHash
	return user, nil
}

func (t *memUsersTx) UpdateUser(_ context.Context, id int64, name, username string, passwordHash *string, updatedBy int64) error {
	m := t.repo()
	user, ok := m.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	user.Name = name
	user.Username = username
	user.UpdatedBy = &updatedBy
	m.users[id] = user
	if passwordHash != nil {
		m.passwords[id] = *passwordHash
	}
	return nil
}

func (t *memUsersTx) SoftDeleteUser(_ context.Context, id, deletedBy int64) error {
	m := t.repo()
	user, ok := m.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	now := time.Now()
	user.DeletedAt = &now
	user.UpdatedBy = &deletedBy
	m.users[id] = user
	return nil
}

func (t *memUsersTx) DetachUserRoles(_ context.Context, id int64) error {
	t.repo().roleIDs[id] = nil
	return nil
}

func (t *memUsersTx) DetachUserPermissions(_ context.Context, id int64) error {
	t.repo().permIDs[id] = nil
	return nil
}

func (t *memUsersTx) SyncUserRoles(_ context.Context, id int64, roleIDs []int64) error {
	m := t.repo()
	var kept []int64
	for _, rid := range roleIDs {
		if _, ok := m.knownRoles[rid]; ok {
			kept = append(kept, rid)
		}
	}
	m.roleIDs[id] = kept
	return nil
}

func (t *memUsersTx) SyncUserPermissions(_ context.Context, id int64, permissionIDs []int64) error {
	m := t.repo()
	var kept []int64
	for _, pid := range permissionIDs {
		if _, ok := m.knownPerms[pid]; ok {
			kept = append(kept, pid)
		}
	}
	m.permIDs[id] = kept
	return nil
}

func (t *memUsersTx) InsertAudit(_ context.Context, entry audit.Entry) error {
	m := t.repo()
	m.audits = append(m.audits, entry)
	return nil
}

type stubHasher struct{}

func (stubHasher) Hash(password string) (string, error) {
	return "hashed:" + password, nil
}

type captureRecorder struct {
	entries []audit.Entry
}

func (c *captureRecorder) Record(_ context.Context, entry audit.Entry) error {
	c.entries = append(c.entries, entry)
	return nil
}

func granter(permIDs ...int64) shared.Actor {
	return shared.Actor{ID: 99, Name: "Granter", Username: "granter", PermissionIDs: permIDs}
}

func meta() shared.RequestMeta {
	return shared.RequestMeta{IP: "198.51.100.4", UserAgent: "go-test"}
}

func TestCreateUserHashesPasswordAndAudits(t *testing.T) {
	repo := newMemUsers()
	svc := NewService(repo, repo, stubHasher{}, &captureRecorder{}, nil)

	user, err := svc.Create(context.Background(), granter(), meta(), "Alice", "alice", "secret-pass")
	require.NoError(t, err)
	require.Equal(t, "hashed:secret-pass", repo.passwords[user.ID])

	require.Len(t, repo.audits, 1)
	entry := repo.audits[0]
	require.Equal(t, audit.ActionUserCreated, entry.Action)
	require.Equal(t, user.ID, *entry.EntityID)
	require.Equal(t, "alice", entry.NewState["username"])
}

func TestUpdateUserAuditsPasswordChangeFlagOnly(t *testing.T) {
	repo := newMemUsers()
	user := repo.addUser("Alice", "alice")
	svc := NewService(repo, repo, stubHasher{}, &captureRecorder{}, nil)

	password := "new-secret"
	_, err := svc.Update(context.Background(), granter(), meta(), user.ID, UpdateInput{Password: &password})
	require.NoError(t, err)

	require.Len(t, repo.audits, 1)
	entry := repo.audits[0]
	require.Equal(t, audit.ActionUserUpdated, entry.Action)
	require.Equal(t, true, entry.NewState["password_changed"])
	for _, state := range []map[string]any{entry.PreviousState, entry.NewState, entry.AdditionalData} {
		for _, v := range state {
			require.NotEqual(t, "new-secret", v)
			require.NotEqual(t, "hashed:new-secret", v)
		}
	}
}

func TestDeleteUserDetachesAndSnapshotsRelations(t *testing.T) {
	repo := newMemUsers()
	user := repo.addUser("Alice", "alice")
	repo.addKnownRole(1, "auditor")
	repo.addKnownPerm(2, "show_users")
	repo.roleIDs[user.ID] = []int64{1}
	repo.permIDs[user.ID] = []int64{2}
	svc := NewService(repo, repo, stubHasher{}, &captureRecorder{}, nil)

	err := svc.Delete(context.Background(), granter(), meta(), user.ID)
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), user.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, repo.roleIDs[user.ID])
	require.Empty(t, repo.permIDs[user.ID])

	require.Len(t, repo.audits, 1)
	entry := repo.audits[0]
	require.Equal(t, audit.ActionUserDeleted, entry.Action)
	require.Equal(t, []string{"auditor"}, entry.PreviousState["roles"])
	require.Equal(t, []string{"show_users"}, entry.PreviousState["permissions"])
}

func TestAssignRolesSelfAssignmentRefused(t *testing.T) {
	repo := newMemUsers()
	user := repo.addUser("Alice", "alice")
	recorder := &captureRecorder{}
	svc := NewService(repo, repo, stubHasher{}, recorder, nil)

	self := shared.Actor{ID: user.ID, Username: "alice"}
	_, err := svc.AssignRoles(context.Background(), self, meta(), user.ID, []int64{1})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, repo.audits)
	require.Empty(t, recorder.entries)
}

func TestAssignRolesSyncsDroppingUnknownIDs(t *testing.T) {
	repo := newMemUsers()
	user := repo.addUser("Alice", "alice")
	repo.addKnownRole(1, "auditor")
	repo.addKnownRole(2, "analyst")
	repo.roleIDs[user.ID] = []int64{1}
	svc := NewService(repo, repo, stubHasher{}, &captureRecorder{}, nil)

	updated, err := svc.AssignRoles(context.Background(), granter(), meta(), user.ID, []int64{2, 777})
	require.NoError(t, err)
	require.Equal(t, []int64{2}, repo.roleIDs[user.ID])
	require.Len(t, updated.Roles, 1)
	require.Equal(t, "analyst", updated.Roles[0].Name)

	require.Len(t, repo.audits, 1)
	entry := repo.audits[0]
	require.Equal(t, audit.ActionUserRolesUpdated, entry.Action)
	require.Equal(t, []int64{1}, entry.PreviousState["roles"])
}

func TestAssignPermissionsAppliesIntersectionSilently(t *testing.T) {
	repo := newMemUsers()
	user := repo.addUser("Alice", "alice")
	repo.addKnownPerm(10, "show_users")
	repo.addKnownPerm(11, "edit_users")
	recorder := &captureRecorder{}
	svc := NewService(repo, repo, stubHasher{}, recorder, nil)

	// granter holds 10 but not 11; the overreach is trimmed, not refused
	updated, err := svc.AssignPermissions(context.Background(), granter(10), meta(), user.ID, []int64{10, 11})
	require.NoError(t, err)
	require.Equal(t, []int64{10}, repo.permIDs[user.ID])
	require.Len(t, updated.Permissions, 1)
	require.Equal(t, "show_users", updated.Permissions[0].Name)
	require.Empty(t, recorder.entries)

	require.Len(t, repo.audits, 1)
	entry := repo.audits[0]
	require.Equal(t, audit.ActionUserPermissionsUpdated, entry.Action)
	require.Equal(t, []int64{10}, entry.NewState["permissions"])
}

func TestAssignPermissionsEmptyIntersectionIsViolation(t *testing.T) {
	repo := newMemUsers()
	user := repo.addUser("Alice", "alice")
	repo.addKnownPerm(10, "show_users")
	repo.permIDs[user.ID] = []int64{10}
	recorder := &captureRecorder{}
	svc := NewService(repo, repo, stubHasher{}, recorder, nil)

	_, err := svc.AssignPermissions(context.Background(), granter(20), meta(), user.ID, []int64{10})
	require.ErrorIs(t, err, shared.ErrForbidden)

	// target unchanged, nothing written in the transaction
	require.Equal(t, []int64{10}, repo.permIDs[user.ID])
	require.Empty(t, repo.audits)

	require.Len(t, recorder.entries, 1)
	entry := recorder.entries[0]
	require.Equal(t, audit.ActionSecurityViolation, entry.Action)
	require.Equal(t, audit.ViolationPermissionAssignment, entry.AdditionalData["violation_type"])
	details, ok := entry.AdditionalData["details"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, user.ID, details["target_user_id"])
	require.Equal(t, []int64{10}, details["requested_permissions"])
}

func TestAssignPermissionsSelfAssignmentRefused(t *testing.T) {
	repo := newMemUsers()
	user := repo.addUser("Alice", "alice")
	recorder := &captureRecorder{}
	svc := NewService(repo, repo, stubHasher{}, recorder, nil)

	self := shared.Actor{ID: user.ID, Username: "alice", PermissionIDs: []int64{10}}
	_, err := svc.AssignPermissions(context.Background(), self, meta(), user.ID, []int64{10})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, recorder.entries)
}

func TestAssignPermissionsEmptyRequestClearsSet(t *testing.T) {
	repo := newMemUsers()
	user := repo.addUser("Alice", "alice")
	repo.addKnownPerm(10, "show_users")
	repo.permIDs[user.ID] = []int64{10}
	recorder := &captureRecorder{}
	svc := NewService(repo, repo, stubHasher{}, recorder, nil)

	// an empty request is a legitimate revoke-all, not a violation
	_, err := svc.AssignPermissions(context.Background(), granter(), meta(), user.ID, nil)
	require.NoError(t, err)
	require.Empty(t, repo.permIDs[user.ID])
	require.Empty(t, recorder.entries)
	require.Len(t, repo.audits, 1)
}
