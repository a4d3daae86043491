package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/kestrelhq/chatgate/internal/errors"
	"github.com/kestrelhq/chatgate/internal/model"
)

type fakeUserStore struct {
	users map[string]*model.User

	lastLoginCalls int
}

func newFakeUserStore(users ...*model.User) *fakeUserStore {
	s := &fakeUserStore{users: make(map[string]*model.User)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeUserStore) GetByID(_ context.Context, id string) (*model.User, error) {
	if u, ok := s.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *fakeUserStore) GetByUsername(_ context.Context, username string) (*model.User, error) {
	for _, u := range s.users {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *fakeUserStore) GetByEmail(_ context.Context, email string) (*model.User, error) {
	for _, u := range s.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *fakeUserStore) List(_ context.Context, skip, limit int) ([]model.User, int64, error) {
	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	return out, int64(len(out)), nil
}

func (s *fakeUserStore) Create(_ context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = "user-" + user.Username
	}
	if user.TokenVersion == 0 {
		user.TokenVersion = 1
	}
	copied := *user
	s.users[user.ID] = &copied
	return nil
}

func (s *fakeUserStore) UpdateFields(_ context.Context, id string, fields map[string]interface{}) error {
	u, ok := s.users[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if v, ok := fields["username"].(string); ok {
		u.Username = v
	}
	if v, ok := fields["email"].(string); ok {
		u.Email = v
	}
	return nil
}

func (s *fakeUserStore) UpdatePassword(_ context.Context, id string, hash string) error {
	u, ok := s.users[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (s *fakeUserStore) SetActive(_ context.Context, id string, active bool) error {
	u, ok := s.users[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.IsActive = active
	return nil
}

func (s *fakeUserStore) UpdateLastLogin(_ context.Context, id string) error {
	s.lastLoginCalls++
	u, ok := s.users[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	now := time.Now()
	u.LastLogin = &now
	return nil
}

func (s *fakeUserStore) IncrementTokenVersion(_ context.Context, id string) (int, error) {
	u, ok := s.users[id]
	if !ok {
		return 0, gorm.ErrRecordNotFound
	}
	u.TokenVersion++
	return u.TokenVersion, nil
}

func (s *fakeUserStore) Delete(_ context.Context, id string) error {
	if _, ok := s.users[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(s.users, id)
	return nil
}

func newTestSessionManager(store UserStore) *SessionManager {
	hasher := NewPasswordHasher(4)
	codec := NewTokenCodec("access-secret", "refresh-secret", time.Hour, 24*time.Hour)
	return NewSessionManager(store, hasher, codec)
}

func testUser(t *testing.T, hasher *PasswordHasher, password string) *model.User {
	t.Helper()
	hash, err := hasher.Hash(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return &model.User{
		ID:           "user-1",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: hash,
		Role:         model.RoleUser,
		IsActive:     true,
		TokenVersion: 1,
	}
}

func TestLoginWithUsername(t *testing.T) {
	sm := newTestSessionManager(nil)
	user := testUser(t, sm.hasher, "secret-pw")
	store := newFakeUserStore(user)
	sm.users = store

	tokens, got, err := sm.Login(context.Background(), "alice", "secret-pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatal("expected both tokens to be issued")
	}
	if tokens.TokenType != "bearer" {
		t.Fatalf("token_type = %q", tokens.TokenType)
	}
	if got.ID != user.ID {
		t.Fatalf("user id = %q, want %q", got.ID, user.ID)
	}
	if store.lastLoginCalls != 1 {
		t.Fatalf("last_login updates = %d, want 1", store.lastLoginCalls)
	}
}

func TestLoginWithEmail(t *testing.T) {
	sm := newTestSessionManager(nil)
	user := testUser(t, sm.hasher, "secret-pw")
	sm.users = newFakeUserStore(user)

	if _, _, err := sm.Login(context.Background(), "alice@example.com", "secret-pw"); err != nil {
		t.Fatalf("login by email: %v", err)
	}
}

func TestLoginUsernameWinsOverEmail(t *testing.T) {
	sm := newTestSessionManager(nil)
	// one user's username equals another user's email address
	byName := testUser(t, sm.hasher, "name-pw")
	byName.ID = "user-name"
	byName.Username = "shared@example.com"
	byName.Email = "other@example.com"

	byMail := testUser(t, sm.hasher, "mail-pw")
	byMail.ID = "user-mail"
	byMail.Username = "bob"
	byMail.Email = "shared@example.com"

	sm.users = newFakeUserStore(byName, byMail)

	_, got, err := sm.Login(context.Background(), "shared@example.com", "name-pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != "user-name" {
		t.Fatalf("resolved user %q, want the username match", got.ID)
	}
}

func TestLoginFailures(t *testing.T) {
	sm := newTestSessionManager(nil)
	user := testUser(t, sm.hasher, "secret-pw")
	inactive := testUser(t, sm.hasher, "secret-pw")
	inactive.ID = "user-2"
	inactive.Username = "carol"
	inactive.Email = "carol@example.com"
	inactive.IsActive = false
	sm.users = newFakeUserStore(user, inactive)

	cases := []struct {
		name       string
		identifier string
		password   string
		want       error
	}{
		{"unknown identifier", "nobody", "whatever", apperrors.ErrInvalidCredentials},
		{"wrong password", "alice", "wrong", apperrors.ErrInvalidCredentials},
		{"inactive user", "carol", "secret-pw", apperrors.ErrInactiveUser},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := sm.Login(context.Background(), tc.identifier, tc.password)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestRefreshRoundTrip(t *testing.T) {
	sm := newTestSessionManager(nil)
	user := testUser(t, sm.hasher, "secret-pw")
	sm.users = newFakeUserStore(user)

	tokens, _, err := sm.Login(context.Background(), "alice", "secret-pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	refreshed, got, err := sm.Refresh(context.Background(), tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.AccessToken == "" || refreshed.RefreshToken == "" {
		t.Fatal("expected a fresh token pair")
	}
	if got.ID != user.ID {
		t.Fatalf("user id = %q", got.ID)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	sm := newTestSessionManager(nil)
	user := testUser(t, sm.hasher, "secret-pw")
	sm.users = newFakeUserStore(user)

	tokens, _, err := sm.Login(context.Background(), "alice", "secret-pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, _, err := sm.Refresh(context.Background(), tokens.AccessToken); !errors.Is(err, apperrors.ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestLogoutInvalidatesOutstandingTokens(t *testing.T) {
	sm := newTestSessionManager(nil)
	user := testUser(t, sm.hasher, "secret-pw")
	sm.users = newFakeUserStore(user)

	tokens, _, err := sm.Login(context.Background(), "alice", "secret-pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := sm.Authenticate(context.Background(), tokens.AccessToken); err != nil {
		t.Fatalf("pre-logout authenticate: %v", err)
	}

	if err := sm.Logout(context.Background(), user.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}

	if _, err := sm.Authenticate(context.Background(), tokens.AccessToken); !errors.Is(err, apperrors.ErrInvalidToken) {
		t.Fatalf("post-logout access err = %v, want ErrInvalidToken", err)
	}
	if _, _, err := sm.Refresh(context.Background(), tokens.RefreshToken); !errors.Is(err, apperrors.ErrInvalidToken) {
		t.Fatalf("post-logout refresh err = %v, want ErrInvalidToken", err)
	}
}

func TestAuthenticateInactiveUser(t *testing.T) {
	sm := newTestSessionManager(nil)
	user := testUser(t, sm.hasher, "secret-pw")
	store := newFakeUserStore(user)
	sm.users = store

	tokens, _, err := sm.Login(context.Background(), "alice", "secret-pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	store.users[user.ID].IsActive = false

	if _, err := sm.Authenticate(context.Background(), tokens.AccessToken); !errors.Is(err, apperrors.ErrInactiveUser) {
		t.Fatalf("err = %v, want ErrInactiveUser", err)
	}
}

func TestAuthenticateGarbageToken(t *testing.T) {
	sm := newTestSessionManager(nil)
	sm.users = newFakeUserStore()

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := sm.Authenticate(context.Background(), token); !errors.Is(err, apperrors.ErrInvalidToken) {
			t.Fatalf("token %q: err = %v, want ErrInvalidToken", token, err)
		}
	}
}
