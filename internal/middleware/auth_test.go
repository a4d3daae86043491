package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/kestrelhq/chatgate/internal/model"
	"github.com/kestrelhq/chatgate/internal/service"
)

type stubUserStore struct {
	users map[string]*model.User
}

func (s *stubUserStore) GetByID(_ context.Context, id string) (*model.User, error) {
	if u, ok := s.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubUserStore) GetByUsername(_ context.Context, username string) (*model.User, error) {
	for _, u := range s.users {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubUserStore) GetByEmail(_ context.Context, email string) (*model.User, error) {
	for _, u := range s.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubUserStore) List(context.Context, int, int) ([]model.User, int64, error) {
	return nil, 0, nil
}
func (s *stubUserStore) Create(context.Context, *model.User) error { return nil }
func (s *stubUserStore) UpdateFields(context.Context, string, map[string]interface{}) error {
	return nil
}
func (s *stubUserStore) UpdatePassword(context.Context, string, string) error { return nil }
func (s *stubUserStore) SetActive(context.Context, string, bool) error        { return nil }
func (s *stubUserStore) UpdateLastLogin(context.Context, string) error        { return nil }
func (s *stubUserStore) IncrementTokenVersion(_ context.Context, id string) (int, error) {
	u, ok := s.users[id]
	if !ok {
		return 0, gorm.ErrRecordNotFound
	}
	u.TokenVersion++
	return u.TokenVersion, nil
}
func (s *stubUserStore) Delete(context.Context, string) error { return nil }

type authFixture struct {
	engine *gin.Engine
	codec  *service.TokenCodec
	store  *stubUserStore
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := &stubUserStore{users: map[string]*model.User{
		"user-1": {
			ID: "user-1", Username: "alice", Role: model.RoleUser,
			IsActive: true, TokenVersion: 1,
		},
		"admin-1": {
			ID: "admin-1", Username: "root", Role: model.RoleAdmin,
			IsActive: true, TokenVersion: 1,
		},
		"user-frozen": {
			ID: "user-frozen", Username: "frozen", Role: model.RoleUser,
			IsActive: false, TokenVersion: 1,
		},
	}}

	codec := service.NewTokenCodec("access-secret", "refresh-secret", time.Hour, 24*time.Hour)
	sessions := service.NewSessionManager(store, service.NewPasswordHasher(4), codec)
	mw := NewAuthMiddleware(sessions)

	engine := gin.New()
	engine.GET("/protected", mw.RequireActiveUser(), func(c *gin.Context) {
		user, _ := CurrentUser(c)
		c.JSON(http.StatusOK, gin.H{"user_id": user.ID})
	})
	engine.GET("/admin", mw.RequireActiveUser(), mw.RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	return &authFixture{engine: engine, codec: codec, store: store}
}

func (f *authFixture) accessToken(t *testing.T, userID, username, role string, version int) string {
	t.Helper()
	token, err := f.codec.IssueAccessToken(userID, username, role, version, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (f *authFixture) request(path, token string, asCookie bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		if asCookie {
			req.AddCookie(&http.Cookie{Name: "access_token", Value: token})
		} else {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func TestRequireActiveUserWithBearerToken(t *testing.T) {
	f := newAuthFixture(t)
	token := f.accessToken(t, "user-1", "alice", "user", 1)

	w := f.request("/protected", token, false)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "user-1") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestRequireActiveUserWithCookie(t *testing.T) {
	f := newAuthFixture(t)
	token := f.accessToken(t, "user-1", "alice", "user", 1)

	if w := f.request("/protected", token, true); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestRequireActiveUserRejections(t *testing.T) {
	f := newAuthFixture(t)

	cases := []struct {
		name  string
		token string
		want  int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"garbage token", "not-a-jwt", http.StatusUnauthorized},
		{"unknown subject", f.accessToken(t, "ghost", "ghost", "user", 1), http.StatusUnauthorized},
		{"stale version", f.accessToken(t, "user-1", "alice", "user", 99), http.StatusUnauthorized},
		{"inactive user", f.accessToken(t, "user-frozen", "frozen", "user", 1), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := f.request("/protected", tc.token, false)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestRejectionBodyIsUniform(t *testing.T) {
	f := newAuthFixture(t)

	garbage := f.request("/protected", "not-a-jwt", false)
	staleVersion := f.request("/protected", f.accessToken(t, "user-1", "alice", "user", 99), false)

	if garbage.Body.String() != staleVersion.Body.String() {
		t.Errorf("rejection bodies differ: %s vs %s", garbage.Body.String(), staleVersion.Body.String())
	}
	if !strings.Contains(garbage.Body.String(), "Could not validate credentials") {
		t.Errorf("body = %s", garbage.Body.String())
	}
}

func TestRequireAdmin(t *testing.T) {
	f := newAuthFixture(t)

	userToken := f.accessToken(t, "user-1", "alice", "user", 1)
	if w := f.request("/admin", userToken, false); w.Code != http.StatusForbidden {
		t.Fatalf("user role status = %d, want 403", w.Code)
	}

	adminToken := f.accessToken(t, "admin-1", "root", "admin", 1)
	if w := f.request("/admin", adminToken, false); w.Code != http.StatusOK {
		t.Fatalf("admin role status = %d, want 200", w.Code)
	}
}

func TestRevocationTakesEffectImmediately(t *testing.T) {
	f := newAuthFixture(t)
	token := f.accessToken(t, "user-1", "alice", "user", 1)

	if w := f.request("/protected", token, false); w.Code != http.StatusOK {
		t.Fatalf("pre-revocation status = %d", w.Code)
	}

	f.store.users["user-1"].TokenVersion++

	if w := f.request("/protected", token, false); w.Code != http.StatusUnauthorized {
		t.Fatalf("post-revocation status = %d, want 401", w.Code)
	}
}
