package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/sentinel-iam/sentinel-iam/internal/audit"
	"github.com/sentinel-iam/sentinel-iam/internal/shared"
)

// Recorder appends audit entries outside a mutation transaction.
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service wraps authentication business rules.
type Service struct {
	repo     Repository
	tokens   *TokenStore
	hasher   *BcryptHasher
	recorder Recorder
	logger   *slog.Logger

	// OnLogin, when set, is invoked with "success" or "failure" after each
	// credential attempt.
	OnLogin func(outcome string)
}

// NewService constructs a new Service.
func NewService(repo Repository, tokens *TokenStore, hasher *BcryptHasher, recorder Recorder, logger *slog.Logger) *Service {
	return &Service{repo: repo, tokens: tokens, hasher: hasher, recorder: recorder, logger: logger}
}

// Session is the result of a successful login.
type Session struct {
	Token string
	Actor shared.Actor
}

// ProfileInput carries a self-service profile update. Nil fields are
// untouched.
type ProfileInput struct {
	Name     *string
	Username *string
	Password *string
}

// Login validates credentials and issues a bearer token. Failed attempts are
// audited whether or not the username resolves to an account.
func (s *Service) Login(ctx context.Context, meta shared.RequestMeta, username, password string) (Session, error) {
	account, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		// only an unknown handle is a credential failure; storage faults
		// propagate so they are never audited as login attempts
		if !errors.Is(err, shared.ErrNotFound) {
			return Session{}, err
		}
		s.observe("failure")
		s.record(ctx, audit.AuthActivity(audit.ActionLoginFailed, nil, meta, map[string]any{
			"attempted_username": username,
		}))
		return Session{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		s.observe("failure")
		s.record(ctx, audit.AuthActivity(audit.ActionLoginFailed, &account.ID, meta, map[string]any{
			"username": account.Username,
		}))
		return Session{}, shared.ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(ctx, account.ID)
	if err != nil {
		return Session{}, err
	}
	actor, err := s.repo.ActorForAccount(ctx, account)
	if err != nil {
		return Session{}, err
	}
	s.observe("success")
	s.record(ctx, audit.AuthActivity(audit.ActionLoginSuccess, &account.ID, meta, map[string]any{
		"username": account.Username,
	}))
	return Session{Token: token, Actor: actor}, nil
}

// Logout revokes the presented token and audits the sign-out.
func (s *Service) Logout(ctx context.Context, actor shared.Actor, meta shared.RequestMeta, token string) error {
	if err := s.tokens.Revoke(ctx, token, actor.ID); err != nil {
		return err
	}
	s.record(ctx, audit.AuthActivity(audit.ActionLogout, &actor.ID, meta, map[string]any{
		"username": actor.Username,
	}))
	return nil
}

// Resolve turns a bearer token into a request identity.
func (s *Service) Resolve(ctx context.Context, token string) (shared.Actor, error) {
	userID, err := s.tokens.Resolve(ctx, token)
	if err != nil {
		return shared.Actor{}, err
	}
	account, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		return shared.Actor{}, shared.ErrUnauthenticated
	}
	return s.repo.ActorForAccount(ctx, account)
}

// Me returns the account behind the current identity.
func (s *Service) Me(ctx context.Context, actor shared.Actor) (*Account, error) {
	return s.repo.GetAccount(ctx, actor.ID)
}

// UpdateProfile edits the caller's own account and audits the change in the
// same transaction. Passwords are never stored in the audit trail, only the
// fact that one changed.
func (s *Service) UpdateProfile(ctx context.Context, actor shared.Actor, meta shared.RequestMeta, input ProfileInput) (*Account, error) {
	account, err := s.repo.GetAccount(ctx, actor.ID)
	if err != nil {
		return nil, err
	}

	previous := map[string]any{
		"name":     account.Name,
		"username": account.Username,
	}
	name := account.Name
	if input.Name != nil {
		name = strings.TrimSpace(*input.Name)
	}
	username := account.Username
	if input.Username != nil {
		username = strings.TrimSpace(*input.Username)
	}
	if name == "" || username == "" {
		return nil, fmt.Errorf("%w: name and username required", shared.ErrValidation)
	}

	var hash *string
	if input.Password != nil {
		hashed, err := s.hasher.Hash(*input.Password)
		if err != nil {
			return nil, err
		}
		hash = &hashed
	}

	entry := audit.UserActivity(audit.ActionProfileUpdated, actor.ID, &actor.ID, meta, previous, map[string]any{
		"name":             name,
		"username":         username,
		"password_changed": hash != nil,
	})
	if err := s.repo.UpdateProfile(ctx, actor.ID, name, username, hash, entry); err != nil {
		return nil, err
	}
	return s.repo.GetAccount(ctx, actor.ID)
}

func (s *Service) observe(outcome string) {
	if s.OnLogin != nil {
		s.OnLogin(outcome)
	}
}

func (s *Service) record(ctx context.Context, entry audit.Entry) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, entry); err != nil && s.logger != nil {
		s.logger.Error("record auth activity", slog.Any("error", err))
	}
}

// BcryptHasher derives bcrypt password hashes at a configured cost.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher validates the cost and builds a hasher.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash derives a storable hash from the password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hashed), nil
}
