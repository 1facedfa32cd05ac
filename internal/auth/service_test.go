package auth

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentinel-iam/sentinel-iam/internal/audit"
	"github.com/sentinel-iam/sentinel-iam/internal/shared"
)

type memAccounts struct {
	byUsername map[string]*Account
	byID       map[int64]*Account
	roles      map[int64][]string
	perms      map[int64][]string
	audits     []audit.Entry
}

func newMemAccounts() *memAccounts {
	return &memAccounts{
		byUsername: make(map[string]*Account),
		byID:       make(map[int64]*Account),
		roles:      make(map[int64][]string),
		perms:      make(map[int64][]string),
	}
}

func (m *memAccounts) add(id int64, name, username, password string) *Account {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	account := &Account{ID: id, Name: name, Username: username, PasswordHash: string(hash)}
	m.byUsername[username] = account
	m.byID[id] = account
	return account
}

func (m *memAccounts) FindByUsername(_ context.Context, username string) (*Account, error) {
	account, ok := m.byUsername[username]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return account, nil
}

func (m *memAccounts) GetAccount(_ context.Context, id int64) (*Account, error) {
	account, ok := m.byID[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return account, nil
}

func (m *memAccounts) ActorForAccount(_ context.Context, account *Account) (shared.Actor, error) {
	return shared.Actor{
		ID:           account.ID,
		Name:         account.Name,
		Username:     account.Username,
		IsSuperAdmin: account.IsSuperAdmin,
		Roles:        m.roles[account.ID],
		Permissions:  m.perms[account.ID],
	}, nil
}

func (m *memAccounts) UpdateProfile(_ context.Context, id int64, name, username string, passwordHash *string, entry audit.Entry) error {
	account, ok := m.byID[id]
	if !ok {
		return shared.ErrNotFound
	}
	delete(m.byUsername, account.Username)
	account.Name = name
	account.Username = username
	if passwordHash != nil {
		account.PasswordHash = *passwordHash
	}
	m.byUsername[username] = account
	m.audits = append(m.audits, entry)
	return nil
}

type captureRecorder struct {
	entries []audit.Entry
}

func (c *captureRecorder) Record(_ context.Context, entry audit.Entry) error {
	c.entries = append(c.entries, entry)
	return nil
}

func testMeta() shared.RequestMeta {
	return shared.RequestMeta{IP: "192.0.2.10", UserAgent: "go-test"}
}

func newTestService(t *testing.T) (*Service, *memAccounts, *captureRecorder) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemAccounts()
	recorder := &captureRecorder{}
	svc := NewService(repo, NewTokenStore(client, time.Hour), NewBcryptHasher(bcrypt.MinCost), recorder, nil)
	return svc, repo, recorder
}

func TestLoginUnknownUsernameAuditsAttempt(t *testing.T) {
	svc, _, recorder := newTestService(t)

	var outcomes []string
	svc.OnLogin = func(outcome string) { outcomes = append(outcomes, outcome) }

	_, err := svc.Login(context.Background(), testMeta(), "ghost", "whatever")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	require.Equal(t, []string{"failure"}, outcomes)

	require.Len(t, recorder.entries, 1)
	entry := recorder.entries[0]
	require.Equal(t, audit.ActionLoginFailed, entry.Action)
	require.Nil(t, entry.PerformedBy)
	require.Equal(t, "ghost", entry.AdditionalData["attempted_username"])
	require.Equal(t, "192.0.2.10", entry.IPAddress)
}

type outageAccounts struct {
	*memAccounts
}

func (outageAccounts) FindByUsername(context.Context, string) (*Account, error) {
	return nil, fmt.Errorf("%w: connection refused", shared.ErrStorage)
}

func TestLoginStorageFaultIsNotACredentialFailure(t *testing.T) {
	svc, repo, recorder := newTestService(t)
	svc.repo = outageAccounts{repo}

	var outcomes []string
	svc.OnLogin = func(outcome string) { outcomes = append(outcomes, outcome) }

	_, err := svc.Login(context.Background(), testMeta(), "alice", "s3cret")
	require.ErrorIs(t, err, shared.ErrStorage)
	require.NotErrorIs(t, err, shared.ErrInvalidCredentials)
	require.Empty(t, recorder.entries)
	require.Empty(t, outcomes)
}

func TestLoginWrongPasswordAuditsWithAccountID(t *testing.T) {
	svc, repo, recorder := newTestService(t)
	repo.add(3, "Alice", "alice", "right-password")

	_, err := svc.Login(context.Background(), testMeta(), "alice", "wrong-password")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	require.Len(t, recorder.entries, 1)
	entry := recorder.entries[0]
	require.Equal(t, audit.ActionLoginFailed, entry.Action)
	require.NotNil(t, entry.PerformedBy)
	require.Equal(t, int64(3), *entry.PerformedBy)
	require.Equal(t, "alice", entry.AdditionalData["username"])
}

func TestLoginIssuesResolvableToken(t *testing.T) {
	svc, repo, recorder := newTestService(t)
	repo.add(3, "Alice", "alice", "s3cret")
	repo.roles[3] = []string{"auditor"}
	repo.perms[3] = []string{"show_users"}

	var outcomes []string
	svc.OnLogin = func(outcome string) { outcomes = append(outcomes, outcome) }

	session, err := svc.Login(context.Background(), testMeta(), "alice", "s3cret")
	require.NoError(t, err)
	require.NotEmpty(t, session.Token)
	require.Equal(t, []string{"success"}, outcomes)
	require.Equal(t, []string{"auditor"}, session.Actor.Roles)

	actor, err := svc.Resolve(context.Background(), session.Token)
	require.NoError(t, err)
	require.Equal(t, int64(3), actor.ID)
	require.Equal(t, []string{"show_users"}, actor.Permissions)

	require.Len(t, recorder.entries, 1)
	require.Equal(t, audit.ActionLoginSuccess, recorder.entries[0].Action)
}

func TestLoginRevokesPriorSession(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.add(3, "Alice", "alice", "s3cret")

	first, err := svc.Login(context.Background(), testMeta(), "alice", "s3cret")
	require.NoError(t, err)
	second, err := svc.Login(context.Background(), testMeta(), "alice", "s3cret")
	require.NoError(t, err)
	require.NotEqual(t, first.Token, second.Token)

	_, err = svc.Resolve(context.Background(), first.Token)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)

	_, err = svc.Resolve(context.Background(), second.Token)
	require.NoError(t, err)
}

func TestLogoutRevokesTokenAndAudits(t *testing.T) {
	svc, repo, recorder := newTestService(t)
	repo.add(3, "Alice", "alice", "s3cret")

	session, err := svc.Login(context.Background(), testMeta(), "alice", "s3cret")
	require.NoError(t, err)

	err = svc.Logout(context.Background(), session.Actor, testMeta(), session.Token)
	require.NoError(t, err)

	_, err = svc.Resolve(context.Background(), session.Token)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)

	last := recorder.entries[len(recorder.entries)-1]
	require.Equal(t, audit.ActionLogout, last.Action)
	require.Equal(t, int64(3), *last.PerformedBy)
}

func TestResolveUnknownTokenUnauthenticated(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Resolve(context.Background(), "deadbeef")
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestResolveDeletedAccountUnauthenticated(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.add(3, "Alice", "alice", "s3cret")

	session, err := svc.Login(context.Background(), testMeta(), "alice", "s3cret")
	require.NoError(t, err)

	// the account disappears while the token is still live
	delete(repo.byID, 3)

	_, err = svc.Resolve(context.Background(), session.Token)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestUpdateProfileAuditsWithoutLeakingPassword(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.add(3, "Alice", "alice", "s3cret")

	name := "Alice Cooper"
	password := "brand-new-secret"
	account, err := svc.UpdateProfile(context.Background(), shared.Actor{ID: 3, Username: "alice"}, testMeta(), ProfileInput{
		Name:     &name,
		Password: &password,
	})
	require.NoError(t, err)
	require.Equal(t, "Alice Cooper", account.Name)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte("brand-new-secret")))

	require.Len(t, repo.audits, 1)
	entry := repo.audits[0]
	require.Equal(t, audit.ActionProfileUpdated, entry.Action)
	require.Equal(t, "Alice", entry.PreviousState["name"])
	require.Equal(t, true, entry.NewState["password_changed"])
	for _, v := range entry.NewState {
		require.NotEqual(t, "brand-new-secret", v)
	}
}

func TestUpdateProfileRejectsBlankUsername(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.add(3, "Alice", "alice", "s3cret")

	blank := "   "
	_, err := svc.UpdateProfile(context.Background(), shared.Actor{ID: 3}, testMeta(), ProfileInput{Username: &blank})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, repo.audits)
}
