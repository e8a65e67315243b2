package app

import (
	"context"
	"fmt"
	"time"

	"github.com/vitalik-svt/tomata/internal/auth"
	"github.com/vitalik-svt/tomata/internal/authpw"
	"github.com/vitalik-svt/tomata/internal/errs"
	"github.com/vitalik-svt/tomata/internal/rbac"
	"github.com/vitalik-svt/tomata/internal/session"
	"github.com/vitalik-svt/tomata/internal/store"
	"github.com/vitalik-svt/tomata/internal/util"
)

type UserAuthenticator interface {
	SignIn(ctx context.Context, req authpw.SignInRequest) (store.User, error)
	EnsureInitAdmin(ctx context.Context, username, password string) (bool, error)
	CreateUser(ctx context.Context, username, password, role string) (bool, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	DeleteUser(ctx context.Context, username string) error
}

type SessionStore interface {
	Save(ctx context.Context, jti string, principal session.Principal, expiresAt time.Time) error
	Lookup(ctx context.Context, jti string) (session.Principal, error)
	Revoke(ctx context.Context, jti string) error
	Ping(ctx context.Context) error
}

type Session struct {
	Token     string
	Username  string
	Role      string
	JTI       string
	ExpiresAt time.Time
}

// SignIn checks the password and issues an access token backed by a stored session.
func (s *Service) SignIn(ctx context.Context, username, password string) (Session, error) {
	user, err := s.users.SignIn(ctx, authpw.SignInRequest{Username: username, Password: password})
	if err != nil {
		return Session{}, err
	}

	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.Username,
		Name: user.Username,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}
	principal := session.Principal{Username: user.Username, Role: user.Role, CreatedAt: now.UTC()}
	if err := s.sessions.Save(ctx, jti, principal, expiresAt); err != nil {
		return Session{}, fmt.Errorf("sign in: %w", err)
	}

	return Session{
		Token:     token,
		Username:  user.Username,
		Role:      user.Role,
		JTI:       jti,
		ExpiresAt: expiresAt,
	}, nil
}

// SessionFromToken resolves a bearer token. Revoked tokens fail even when the signature is valid.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	principal, err := s.sessions.Lookup(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		Username:  principal.Username,
		Role:      principal.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session) error {
	if session.JTI == "" {
		return nil
	}
	return s.sessions.Revoke(ctx, session.JTI)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// UserInfo is an account as shown to admins; the password hash never leaves the store.
type UserInfo struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateUser adds an account. A taken name is errs.ErrAlreadyExists.
func (s *Service) CreateUser(ctx context.Context, username, password, role string) (UserInfo, error) {
	if role == "" {
		role = string(rbac.RoleEditor)
	}
	created, err := s.users.CreateUser(ctx, username, password, role)
	if err != nil {
		return UserInfo{}, err
	}
	if !created {
		return UserInfo{}, fmt.Errorf("%w: user %s", errs.ErrAlreadyExists, username)
	}
	s.log.Info("user created", "username", username, "role", role)
	return UserInfo{Username: username, Role: role, CreatedAt: s.now().UTC()}, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]UserInfo, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]UserInfo, 0, len(users))
	for _, u := range users {
		out = append(out, UserInfo{Username: u.Username, Role: u.Role, CreatedAt: u.CreatedAt})
	}
	return out, nil
}

// DeleteUser removes username. Admins cannot remove their own account.
// Sessions already issued to the user stay valid until they expire.
func (s *Service) DeleteUser(ctx context.Context, actor, username string) error {
	if actor == username {
		return fmt.Errorf("%w: cannot delete the signed-in user", errs.ErrInvalidInput)
	}
	if err := s.users.DeleteUser(ctx, username); err != nil {
		return err
	}
	s.log.Info("user deleted", "username", username, "by", actor)
	return nil
}
