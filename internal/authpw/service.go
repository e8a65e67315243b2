// Package authpw signs users in with a username and a bcrypt-hashed password.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/vitalik-svt/tomata/internal/errs"
	"github.com/vitalik-svt/tomata/internal/rbac"
	"github.com/vitalik-svt/tomata/internal/store"
)

const (
	RoleAdmin  = string(rbac.RoleAdmin)
	RoleEditor = string(rbac.RoleEditor)
)

type Service struct {
	store UserStore
	cost  int
}

type UserStore interface {
	GetUser(ctx context.Context, username string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) (bool, error)
	CountUsers(ctx context.Context) (int, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	DeleteUser(ctx context.Context, username string) (bool, error)
}

func NewService(store UserStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost}
}

type SignInRequest struct {
	Username string
	Password string
}

// SignIn returns the user for valid credentials and errs.ErrUnauthorized otherwise.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return store.User{}, fmt.Errorf("%w: username and password are required", errs.ErrUnauthorized)
	}

	user, err := s.store.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return store.User{}, fmt.Errorf("%w: invalid username or password", errs.ErrUnauthorized)
		}
		return store.User{}, fmt.Errorf("sign in: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return store.User{}, fmt.Errorf("%w: invalid username or password", errs.ErrUnauthorized)
	}
	return user, nil
}

// CreateUser hashes the password and stores the user. created is false when the name is taken.
func (s *Service) CreateUser(ctx context.Context, username, password, role string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return false, fmt.Errorf("%w: username and password are required", errs.ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}
	if role == "" {
		role = RoleEditor
	}
	if !rbac.Valid(role) {
		return false, fmt.Errorf("%w: unknown role %q", errs.ErrInvalidInput, role)
	}
	return s.store.CreateUser(ctx, store.User{Username: username, PasswordHash: string(hash), Role: role})
}

// EnsureInitAdmin creates the bootstrap admin when no users exist yet.
func (s *Service) EnsureInitAdmin(ctx context.Context, username, password string) (bool, error) {
	n, err := s.store.CountUsers(ctx)
	if err != nil {
		return false, fmt.Errorf("ensure init admin: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	return s.CreateUser(ctx, username, password, RoleAdmin)
}

func (s *Service) ListUsers(ctx context.Context) ([]store.User, error) {
	return s.store.ListUsers(ctx)
}

// DeleteUser removes an account; an unknown name is errs.ErrNotFound.
func (s *Service) DeleteUser(ctx context.Context, username string) error {
	deleted, err := s.store.DeleteUser(ctx, username)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: user %s", errs.ErrNotFound, username)
	}
	return nil
}
