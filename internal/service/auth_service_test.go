package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pkazmin/auth-rbac-service/internal/domain"
	"github.com/pkazmin/auth-rbac-service/internal/repository"
	"github.com/pkazmin/auth-rbac-service/internal/security"
)

type inMemoryUserRepo struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*domain.User
	byLogin map[string]*domain.User
}

func newInMemoryUserRepo() *inMemoryUserRepo {
	return &inMemoryUserRepo{
		byID:    map[uuid.UUID]*domain.User{},
		byLogin: map[string]*domain.User{},
	}
}

func (r *inMemoryUserRepo) FindByID(id uuid.UUID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *inMemoryUserRepo) FindByLogin(login string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byLogin[login]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *inMemoryUserRepo) Create(u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byLogin[u.Login]; exists {
		return repository.ErrDuplicateLogin
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	copied := *u
	r.byID[copied.ID] = &copied
	r.byLogin[copied.Login] = &copied
	return nil
}

func (r *inMemoryUserRepo) UpdatePassword(id uuid.UUID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (r *inMemoryUserRepo) SetGroups(userID uuid.UUID, groupIDs []uuid.UUID) error {
	return nil
}

type inMemorySessionRepo struct {
	mu       sync.Mutex
	sessions []*domain.RefreshSession
	history  []*domain.LoginHistory
}

func newInMemorySessionRepo() *inMemorySessionRepo { return &inMemorySessionRepo{} }

func (r *inMemorySessionRepo) Open(userID uuid.UUID, userAgent, refreshJTI string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.UserID == userID && s.UserAgent == userAgent && s.IsActive {
			return repository.ErrDuplicateActiveSession
		}
	}
	r.sessions = append(r.sessions, &domain.RefreshSession{
		ID:         uuid.New(),
		UserID:     userID,
		RefreshJTI: refreshJTI,
		UserAgent:  userAgent,
		IsActive:   true,
		ExpiresAt:  expiresAt,
	})
	r.history = append(r.history, &domain.LoginHistory{
		ID:        uuid.New(),
		UserID:    userID,
		UserAgent: userAgent,
		LoginAt:   time.Now().UTC(),
	})
	return nil
}

func (r *inMemorySessionRepo) Close(userID uuid.UUID, userAgent, refreshJTI string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.UserID == userID && s.UserAgent == userAgent && s.RefreshJTI == refreshJTI && s.IsActive {
			s.IsActive = false
			now := time.Now().UTC()
			for i := len(r.history) - 1; i >= 0; i-- {
				h := r.history[i]
				if h.UserID == userID && h.UserAgent == userAgent && h.LogoutAt == nil {
					h.LogoutAt = &now
					break
				}
			}
			return true, nil
		}
	}
	return false, nil
}

func (r *inMemorySessionRepo) CloseAll(userID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.sessions {
		if s.UserID == userID && s.IsActive {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

func (r *inMemorySessionRepo) Rotate(userID uuid.UUID, userAgent, oldJTI, newJTI string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.UserID == userID && s.UserAgent == userAgent && s.RefreshJTI == oldJTI && s.IsActive {
			s.IsActive = false
			r.sessions = append(r.sessions, &domain.RefreshSession{
				ID:         uuid.New(),
				UserID:     userID,
				RefreshJTI: newJTI,
				UserAgent:  userAgent,
				IsActive:   true,
				ExpiresAt:  expiresAt,
			})
			return nil
		}
	}
	return repository.ErrSessionNotFound
}

func (r *inMemorySessionRepo) FindActiveByJTI(refreshJTI string) (*domain.RefreshSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.RefreshJTI == refreshJTI && s.IsActive && s.ExpiresAt.After(time.Now()) {
			copied := *s
			return &copied, nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (r *inMemorySessionRepo) ListActive(userID uuid.UUID) ([]domain.RefreshSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.RefreshSession
	for _, s := range r.sessions {
		if s.UserID == userID && s.IsActive && s.ExpiresAt.After(time.Now()) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *inMemorySessionRepo) CountActive(userID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.sessions {
		if s.UserID == userID && s.IsActive && s.ExpiresAt.After(time.Now()) {
			n++
		}
	}
	return n, nil
}

func (r *inMemorySessionRepo) ListHistory(userID uuid.UUID, req repository.PageRequest) (repository.PageResult[domain.LoginHistory], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.LoginHistory
	for i := len(r.history) - 1; i >= 0; i-- {
		if r.history[i].UserID == userID {
			items = append(items, *r.history[i])
		}
	}
	return repository.PageResult[domain.LoginHistory]{
		Items: items,
		Total: int64(len(items)),
		Page:  1,
	}, nil
}

func (r *inMemorySessionRepo) DeactivateExpired() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.sessions {
		if s.IsActive && !s.ExpiresAt.After(time.Now()) {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

func newAuthServiceForTest(t *testing.T, maxSessions int) (*AuthService, *inMemoryUserRepo, *inMemorySessionRepo, *InMemoryDenylistCache) {
	t.Helper()
	users := newInMemoryUserRepo()
	sessions := newInMemorySessionRepo()
	denylist := NewInMemoryDenylistCache()
	jwtMgr := security.NewJWTManager("auth-test", "auth-test-clients", "access-secret", "refresh-secret")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewAuthService(jwtMgr, users, sessions, denylist, logger, 10*time.Minute, time.Hour, maxSessions)
	return svc, users, sessions, denylist
}

func seedUser(t *testing.T, users *inMemoryUserRepo, login, password string) *domain.User {
	t.Helper()
	hash, err := security.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	u := &domain.User{Login: login, Email: login + "@example.com", PasswordHash: hash}
	if err := users.Create(u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func TestSignInIssuesPairAndOpensSession(t *testing.T) {
	svc, users, sessions, _ := newAuthServiceForTest(t, 5)
	user := seedUser(t, users, "alice", "correct-horse")

	pair, err := svc.SignIn(context.Background(), "alice", "correct-horse", "firefox", "198.51.100.7")
	if err != nil {
		t.Fatalf("signin: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens to be issued")
	}

	jwtMgr := security.NewJWTManager("auth-test", "auth-test-clients", "access-secret", "refresh-secret")
	claims, err := jwtMgr.ParseAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.Subject != "alice" {
		t.Fatalf("token subject must equal the username, got %q", claims.Subject)
	}
	if id, err := claims.SubjectID(); err != nil || id != user.ID {
		t.Fatalf("token user id claim mismatch: %v %v", id, err)
	}

	n, _ := sessions.CountActive(user.ID)
	if n != 1 {
		t.Fatalf("expected one active session, got %d", n)
	}
	if len(sessions.history) != 1 {
		t.Fatalf("expected one history row, got %d", len(sessions.history))
	}
}

func TestSignInWrongPassword(t *testing.T) {
	svc, users, sessions, _ := newAuthServiceForTest(t, 5)
	user := seedUser(t, users, "alice", "correct-horse")

	_, err := svc.SignIn(context.Background(), "alice", "wrong", "firefox", "198.51.100.7")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	_, err = svc.SignIn(context.Background(), "nobody", "whatever", "firefox", "198.51.100.7")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown login must fail the same way, got %v", err)
	}
	if n, _ := sessions.CountActive(user.ID); n != 0 {
		t.Fatal("failed signin must not open a session")
	}
}

func TestSignInRejectsSecondSessionForSameDevice(t *testing.T) {
	svc, users, _, _ := newAuthServiceForTest(t, 5)
	seedUser(t, users, "alice", "correct-horse")

	if _, err := svc.SignIn(context.Background(), "alice", "correct-horse", "firefox", "198.51.100.7"); err != nil {
		t.Fatalf("first signin: %v", err)
	}
	_, err := svc.SignIn(context.Background(), "alice", "correct-horse", "firefox", "198.51.100.7")
	if !errors.Is(err, repository.ErrDuplicateActiveSession) {
		t.Fatalf("expected ErrDuplicateActiveSession, got %v", err)
	}
}

func TestSignInEnforcesSessionBound(t *testing.T) {
	svc, users, _, _ := newAuthServiceForTest(t, 2)
	seedUser(t, users, "alice", "correct-horse")

	for _, ua := range []string{"firefox", "chrome"} {
		if _, err := svc.SignIn(context.Background(), "alice", "correct-horse", ua, "198.51.100.7"); err != nil {
			t.Fatalf("signin %s: %v", ua, err)
		}
	}
	_, err := svc.SignIn(context.Background(), "alice", "correct-horse", "safari", "198.51.100.7")
	if !errors.Is(err, ErrTooManySessions) {
		t.Fatalf("expected ErrTooManySessions, got %v", err)
	}
}

func TestLogoutDenylistsAndClosesSession(t *testing.T) {
	svc, users, sessions, _ := newAuthServiceForTest(t, 5)
	user := seedUser(t, users, "alice", "correct-horse")

	pair, err := svc.SignIn(context.Background(), "alice", "correct-horse", "firefox", "198.51.100.7")
	if err != nil {
		t.Fatalf("signin: %v", err)
	}
	jwtMgr := security.NewJWTManager("auth-test", "auth-test-clients", "access-secret", "refresh-secret")
	claims, err := jwtMgr.ParseAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}

	if err := svc.Logout(context.Background(), claims, "firefox"); err != nil {
		t.Fatalf("logout: %v", err)
	}

	denied, err := svc.IsDenylisted(context.Background(), claims.ID)
	if err != nil {
		t.Fatalf("denylist check: %v", err)
	}
	if !denied {
		t.Fatal("access jti must be denylisted after logout")
	}
	if n, _ := sessions.CountActive(user.ID); n != 0 {
		t.Fatal("session must be closed after logout")
	}
	if sessions.history[0].LogoutAt == nil {
		t.Fatal("history row must carry the logout timestamp")
	}

	// Second logout is a no-op, not an error.
	if err := svc.Logout(context.Background(), claims, "firefox"); err != nil {
		t.Fatalf("repeat logout: %v", err)
	}
}

func TestRefreshRotatesSession(t *testing.T) {
	svc, users, sessions, _ := newAuthServiceForTest(t, 5)
	user := seedUser(t, users, "alice", "correct-horse")

	pair, err := svc.SignIn(context.Background(), "alice", "correct-horse", "firefox", "198.51.100.7")
	if err != nil {
		t.Fatalf("signin: %v", err)
	}
	historyBefore := len(sessions.history)

	fresh, err := svc.Refresh(context.Background(), pair.RefreshToken, "firefox")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if fresh.AccessToken == pair.AccessToken || fresh.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh must mint a new pair")
	}
	if n, _ := sessions.CountActive(user.ID); n != 1 {
		t.Fatal("rotation must keep exactly one active session")
	}
	if len(sessions.history) != historyBefore {
		t.Fatal("refresh must not add a login history row")
	}

	// The old refresh token's session is gone; replaying it fails.
	if _, err := svc.Refresh(context.Background(), pair.RefreshToken, "firefox"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected replay to fail with ErrInvalidToken, got %v", err)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	svc, users, _, _ := newAuthServiceForTest(t, 5)
	seedUser(t, users, "alice", "correct-horse")

	pair, err := svc.SignIn(context.Background(), "alice", "correct-horse", "firefox", "198.51.100.7")
	if err != nil {
		t.Fatalf("signin: %v", err)
	}
	_, err = svc.Refresh(context.Background(), pair.AccessToken, "firefox")
	if !errors.Is(err, security.ErrWrongTokenType) {
		t.Fatalf("expected ErrWrongTokenType, got %v", err)
	}
}

func TestRefreshRejectsForeignDevice(t *testing.T) {
	svc, users, _, _ := newAuthServiceForTest(t, 5)
	seedUser(t, users, "alice", "correct-horse")

	pair, err := svc.SignIn(context.Background(), "alice", "correct-horse", "firefox", "198.51.100.7")
	if err != nil {
		t.Fatalf("signin: %v", err)
	}
	_, err = svc.Refresh(context.Background(), pair.RefreshToken, "chrome")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for mismatched device, got %v", err)
	}
}

func TestChangePasswordClosesAllSessions(t *testing.T) {
	svc, users, sessions, _ := newAuthServiceForTest(t, 5)
	user := seedUser(t, users, "alice", "correct-horse")

	for _, ua := range []string{"firefox", "chrome"} {
		if _, err := svc.SignIn(context.Background(), "alice", "correct-horse", ua, "198.51.100.7"); err != nil {
			t.Fatalf("signin %s: %v", ua, err)
		}
	}

	err := svc.ChangePassword(context.Background(), user.ID, "correct-horse", "correct-horse", "battery-staple")
	if err != nil {
		t.Fatalf("change password: %v", err)
	}
	if n, _ := sessions.CountActive(user.ID); n != 0 {
		t.Fatal("password change must invalidate every session")
	}
	// History survives the forced invalidation.
	if len(sessions.history) != 2 {
		t.Fatalf("history must be preserved, got %d rows", len(sessions.history))
	}

	if _, err := svc.SignIn(context.Background(), "alice", "correct-horse", "firefox", "198.51.100.7"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatal("old password must stop working")
	}
	if _, err := svc.SignIn(context.Background(), "alice", "battery-staple", "firefox", "198.51.100.7"); err != nil {
		t.Fatalf("new password must work: %v", err)
	}
}

func TestChangePasswordValidation(t *testing.T) {
	svc, users, _, _ := newAuthServiceForTest(t, 5)
	user := seedUser(t, users, "alice", "correct-horse")

	cases := []struct {
		name                       string
		old, repeated, replacement string
	}{
		{"confirmation mismatch", "correct-horse", "something-else", "battery-staple"},
		{"new equals old", "correct-horse", "correct-horse", "correct-horse"},
		{"wrong old password", "wrong", "wrong", "battery-staple"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.ChangePassword(context.Background(), user.ID, tc.old, tc.repeated, tc.replacement)
			if !errors.Is(err, ErrPasswordMismatch) {
				t.Fatalf("expected ErrPasswordMismatch, got %v", err)
			}
		})
	}
}
