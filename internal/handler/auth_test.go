package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kestrelhq/chatgate/internal/middleware"
	"github.com/kestrelhq/chatgate/internal/model"
	"github.com/kestrelhq/chatgate/internal/service"
)

type memUserStore struct {
	users map[string]*model.User
}

func (s *memUserStore) GetByID(_ context.Context, id string) (*model.User, error) {
	if u, ok := s.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *memUserStore) GetByUsername(_ context.Context, username string) (*model.User, error) {
	for _, u := range s.users {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *memUserStore) GetByEmail(_ context.Context, email string) (*model.User, error) {
	for _, u := range s.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *memUserStore) List(context.Context, int, int) ([]model.User, int64, error) {
	return nil, 0, nil
}

func (s *memUserStore) Create(_ context.Context, user *model.User) error {
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

func (s *memUserStore) UpdateFields(context.Context, string, map[string]interface{}) error {
	return nil
}
func (s *memUserStore) UpdatePassword(context.Context, string, string) error { return nil }
func (s *memUserStore) SetActive(context.Context, string, bool) error        { return nil }
func (s *memUserStore) UpdateLastLogin(context.Context, string) error        { return nil }
func (s *memUserStore) IncrementTokenVersion(_ context.Context, id string) (int, error) {
	u, ok := s.users[id]
	if !ok {
		return 0, gorm.ErrRecordNotFound
	}
	u.TokenVersion++
	return u.TokenVersion, nil
}
func (s *memUserStore) Delete(context.Context, string) error { return nil }

type memSettingsStore struct {
	rows map[string]*model.UserSettings
}

func (s *memSettingsStore) Get(_ context.Context, userID string) (*model.UserSettings, error) {
	row, ok := s.rows[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *row
	return &copied, nil
}

func (s *memSettingsStore) Create(_ context.Context, settings *model.UserSettings) error {
	copied := *settings
	s.rows[settings.UserID] = &copied
	return nil
}

func (s *memSettingsStore) UpdateFields(_ context.Context, userID string, fields map[string]interface{}) error {
	row, ok := s.rows[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if v, ok := fields["display_name"].(string); ok {
		row.DisplayName = v
	}
	if v, ok := fields["default_model"].(string); ok {
		row.DefaultModel = v
	}
	if v, ok := fields["avatar_url"].(string); ok {
		row.AvatarURL = v
	}
	if v, ok := fields["preferences"].(datatypes.JSON); ok {
		row.Preferences = v
	}
	return nil
}

func (s *memSettingsStore) Delete(_ context.Context, userID string) error {
	if _, ok := s.rows[userID]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(s.rows, userID)
	return nil
}

func newAuthEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := &memUserStore{users: make(map[string]*model.User)}
	hasher := service.NewPasswordHasher(4)
	codec := service.NewTokenCodec("access-secret", "refresh-secret", time.Hour, 24*time.Hour)
	sessions := service.NewSessionManager(store, hasher, codec)
	settings := &memSettingsStore{rows: make(map[string]*model.UserSettings)}
	users := service.NewUserService(store, newMemChatStore(), settings, hasher, sessions)
	mw := middleware.NewAuthMiddleware(sessions)

	h := NewAuthHandler(sessions, users, false, 3600, 86400)

	engine := gin.New()
	auth := engine.Group("/api/auth")
	auth.POST("/register", h.Register)
	auth.POST("/login", h.Login)
	auth.POST("/refresh", h.Refresh)
	auth.POST("/logout", mw.RequireActiveUser(), h.Logout)
	auth.GET("/me", mw.RequireActiveUser(), h.Me)

	return engine
}

func postJSON(engine *gin.Engine, path, body string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if mutate != nil {
		mutate(req)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func registerAlice(t *testing.T, engine *gin.Engine) {
	t.Helper()
	w := postJSON(engine, "/api/auth/register",
		`{"username":"alice","email":"alice@example.com","password":"super-secret"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestRegisterValidation(t *testing.T) {
	engine := newAuthEngine(t)

	cases := []struct {
		name string
		body string
	}{
		{"short password", `{"username":"alice","email":"a@example.com","password":"short"}`},
		{"bad email", `{"username":"alice","email":"not-an-email","password":"super-secret"}`},
		{"missing username", `{"email":"a@example.com","password":"super-secret"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := postJSON(engine, "/api/auth/register", tc.body, nil); w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestRegisterDuplicateIsConflict(t *testing.T) {
	engine := newAuthEngine(t)
	registerAlice(t, engine)

	w := postJSON(engine, "/api/auth/register",
		`{"username":"alice","email":"other@example.com","password":"super-secret"}`, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestLoginSetsSessionCookies(t *testing.T) {
	engine := newAuthEngine(t)
	registerAlice(t, engine)

	w := postJSON(engine, "/api/auth/login",
		`{"username":"alice","password":"super-secret"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var tokens struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &tokens); err != nil {
		t.Fatalf("body: %v", err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" || tokens.TokenType != "bearer" {
		t.Fatalf("tokens = %+v", tokens)
	}

	cookies := w.Result().Cookies()
	var names []string
	for _, c := range cookies {
		names = append(names, c.Name)
		if !c.HttpOnly {
			t.Errorf("cookie %q must be HTTP-only", c.Name)
		}
	}
	joined := strings.Join(names, ",")
	if !strings.Contains(joined, "access_token") || !strings.Contains(joined, "refresh_token") {
		t.Fatalf("cookies = %v", names)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	engine := newAuthEngine(t)
	registerAlice(t, engine)

	w := postJSON(engine, "/api/auth/login",
		`{"username":"alice","password":"wrong"}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Incorrect username or password") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestRefreshFromCookie(t *testing.T) {
	engine := newAuthEngine(t)
	registerAlice(t, engine)

	login := postJSON(engine, "/api/auth/login",
		`{"username":"alice","password":"super-secret"}`, nil)

	var refreshCookie *http.Cookie
	for _, c := range login.Result().Cookies() {
		if c.Name == "refresh_token" {
			refreshCookie = c
		}
	}
	if refreshCookie == nil {
		t.Fatal("no refresh cookie set")
	}

	w := postJSON(engine, "/api/auth/refresh", `{}`, func(req *http.Request) {
		req.AddCookie(refreshCookie)
	})
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, body %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "access_token") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestLogoutRevokesAndClearsCookies(t *testing.T) {
	engine := newAuthEngine(t)
	registerAlice(t, engine)

	login := postJSON(engine, "/api/auth/login",
		`{"username":"alice","password":"super-secret"}`, nil)
	var tokens struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(login.Body.Bytes(), &tokens); err != nil {
		t.Fatalf("body: %v", err)
	}

	logout := postJSON(engine, "/api/auth/logout", ``, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	})
	if logout.Code != http.StatusOK {
		t.Fatalf("logout status = %d, body %s", logout.Code, logout.Body.String())
	}

	for _, c := range logout.Result().Cookies() {
		if c.Value != "" {
			t.Errorf("cookie %q not cleared", c.Name)
		}
	}

	// the old refresh token is dead
	w := postJSON(engine, "/api/auth/refresh",
		`{"refresh_token":"`+tokens.RefreshToken+`"}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("post-logout refresh status = %d, want 401", w.Code)
	}

	// and so is the access token
	me := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	me.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, me)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("post-logout me status = %d, want 401", rec.Code)
	}
}

func TestMeReturnsCurrentUser(t *testing.T) {
	engine := newAuthEngine(t)
	registerAlice(t, engine)

	login := postJSON(engine, "/api/auth/login",
		`{"username":"alice","password":"super-secret"}`, nil)
	var tokens struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(login.Body.Bytes(), &tokens); err != nil {
		t.Fatalf("body: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"username":"alice"`) {
		t.Errorf("body = %s", w.Body.String())
	}
	if strings.Contains(w.Body.String(), "password") {
		t.Errorf("password material leaked: %s", w.Body.String())
	}
}
