package authpw

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/vitalik-svt/tomata/internal/errs"
	"github.com/vitalik-svt/tomata/internal/store"
)

type mockUserStore struct {
	users   map[string]store.User
	failGet error
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[string]store.User)}
}

func (m *mockUserStore) GetUser(_ context.Context, username string) (store.User, error) {
	if m.failGet != nil {
		return store.User{}, m.failGet
	}
	if user, ok := m.users[username]; ok {
		return user, nil
	}
	return store.User{}, errs.ErrNotFound
}

func (m *mockUserStore) CreateUser(_ context.Context, user store.User) (bool, error) {
	if _, ok := m.users[user.Username]; ok {
		return false, nil
	}
	m.users[user.Username] = user
	return true, nil
}

func (m *mockUserStore) CountUsers(context.Context) (int, error) {
	return len(m.users), nil
}

func (m *mockUserStore) ListUsers(context.Context) ([]store.User, error) {
	users := make([]store.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	return users, nil
}

func (m *mockUserStore) DeleteUser(_ context.Context, username string) (bool, error) {
	if _, ok := m.users[username]; !ok {
		return false, nil
	}
	delete(m.users, username)
	return true, nil
}

func newTestService(users *mockUserStore) *Service {
	svc := NewService(users)
	svc.cost = bcrypt.MinCost
	return svc
}

func TestSignIn(t *testing.T) {
	users := newMockUserStore()
	svc := newTestService(users)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, "avery", "correct horse", ""); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	tests := []struct {
		name     string
		username string
		password string
		wantErr  bool
	}{
		{name: "valid credentials", username: "avery", password: "correct horse"},
		{name: "surrounding spaces in username", username: "  avery ", password: "correct horse"},
		{name: "wrong password", username: "avery", password: "nope", wantErr: true},
		{name: "unknown user", username: "blake", password: "correct horse", wantErr: true},
		{name: "empty password", username: "avery", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := svc.SignIn(ctx, SignInRequest{Username: tt.username, Password: tt.password})
			if tt.wantErr {
				if !errors.Is(err, errs.ErrUnauthorized) {
					t.Fatalf("SignIn() error = %v, want ErrUnauthorized", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SignIn() error = %v", err)
			}
			if user.Role != RoleEditor {
				t.Errorf("role = %q, want %q", user.Role, RoleEditor)
			}
		})
	}
}

func TestSignInStoreFailureIsNotUnauthorized(t *testing.T) {
	users := newMockUserStore()
	users.failGet = errors.New("db down")
	_, err := newTestService(users).SignIn(context.Background(), SignInRequest{Username: "avery", Password: "x"})
	if err == nil || errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("SignIn() error = %v, want a server error", err)
	}
}

func TestEnsureInitAdmin(t *testing.T) {
	users := newMockUserStore()
	svc := newTestService(users)
	ctx := context.Background()

	created, err := svc.EnsureInitAdmin(ctx, "admin", "admin")
	if err != nil || !created {
		t.Fatalf("EnsureInitAdmin() = %v, %v; want true, nil", created, err)
	}
	if users.users["admin"].Role != RoleAdmin {
		t.Errorf("admin role = %q", users.users["admin"].Role)
	}

	created, err = svc.EnsureInitAdmin(ctx, "other", "pw")
	if err != nil || created {
		t.Fatalf("second EnsureInitAdmin() = %v, %v; want false, nil", created, err)
	}
}

func TestCreateUserValidates(t *testing.T) {
	_, err := newTestService(newMockUserStore()).CreateUser(context.Background(), " ", "pw", "")
	if !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("CreateUser() error = %v, want ErrInvalidInput", err)
	}
}

func TestCreateUserRejectsUnknownRole(t *testing.T) {
	svc := newTestService(newMockUserStore())
	_, err := svc.CreateUser(context.Background(), "sam", "pw", "owner")
	if !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("CreateUser() error = %v, want ErrInvalidInput", err)
	}
}

func TestDeleteUser(t *testing.T) {
	users := newMockUserStore()
	svc := newTestService(users)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, "sam", "pw", "viewer"); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := svc.DeleteUser(ctx, "sam"); err != nil {
		t.Fatalf("DeleteUser() error = %v", err)
	}
	if err := svc.DeleteUser(ctx, "sam"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("second DeleteUser() error = %v, want ErrNotFound", err)
	}
	listed, err := svc.ListUsers(ctx)
	if err != nil || len(listed) != 0 {
		t.Fatalf("ListUsers() = %v, %v", listed, err)
	}
}
