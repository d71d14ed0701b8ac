package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pkazmin/auth-rbac-service/internal/health"
	"github.com/pkazmin/auth-rbac-service/internal/http/handler"
	"github.com/pkazmin/auth-rbac-service/internal/http/router"
	"github.com/pkazmin/auth-rbac-service/internal/repository"
	"github.com/pkazmin/auth-rbac-service/internal/security"
	"github.com/pkazmin/auth-rbac-service/internal/service"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// newAuthTestServer wires the full HTTP stack against an in-memory sqlite
// database and a miniredis instance. The returned client carries a cookie
// jar so token cookies flow between requests the way a browser would.
func newAuthTestServer(t *testing.T) (string, *http.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	permRepo := repository.NewPermissionRepository(db)

	jwtMgr := security.NewJWTManager("auth-rbac-service", "auth-rbac-clients", "itest-access-secret", "itest-refresh-secret")
	denylist := service.NewRedisDenylistCache(redisClient, "itest:denylist")
	guard := service.NewRedisAuthAbuseGuard(redisClient, "itest:abuse", service.AuthAbusePolicy{})

	authSvc := service.NewAuthService(jwtMgr, userRepo, sessionRepo, denylist, log,
		15*time.Minute, 24*time.Hour, 5).WithAbuseGuard(guard)
	userSvc := service.NewUserService(userRepo, log)
	groupSvc := service.NewGroupService(groupRepo)
	permSvc := service.NewPermissionService(permRepo)
	sessionSvc := service.NewSessionService(sessionRepo, log)

	h := router.NewRouter(router.Dependencies{
		AuthHandler:       handler.NewAuthHandler(authSvc, userSvc, sessionSvc),
		GroupHandler:      handler.NewGroupHandler(groupSvc),
		PermissionHandler: handler.NewPermissionHandler(permSvc),
		UserAdminHandler:  handler.NewUserAdminHandler(userSvc),
		JWTManager:        jwtMgr,
		Denylist:          denylist,
		Authorizer:        service.NewPermissionEvaluator(),
		Resolver:          service.NewFreshPermissionResolver(userRepo),
		AuthRateLimitRPM:  10000,
		APIRateLimitRPM:   10000,
		Readiness:         health.NewProbeRunner(time.Second, health.DatabaseProbe(db), health.RedisProbe(redisClient)),
	})

	srv := httptest.NewServer(h)
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := &http.Client{Jar: jar, Timeout: 10 * time.Second}

	closeFn := func() {
		srv.Close()
		_ = redisClient.Close()
	}
	return srv.URL, client, closeFn
}

// doJSON sends a JSON request and decodes the response envelope. A nil
// headers map leaves the client's defaults in place; an empty User-Agent
// value suppresses the header entirely.
func doJSON(t *testing.T, client *http.Client, method, rawURL string, body interface{}, headers map[string]string) (*http.Response, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, rawURL, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "integration-test")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, rawURL, err)
	}
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode envelope from %s %s: %v (body %q)", method, rawURL, err, raw)
		}
	}
	return resp, env
}

// cookieValue reads a cookie from the client jar. The lookup path covers
// both root-scoped cookies and the refresh cookie pinned to the auth prefix.
func cookieValue(t *testing.T, client *http.Client, baseURL, name string) string {
	t.Helper()
	u, err := url.Parse(baseURL + "/api/v1/auth/refresh")
	if err != nil {
		t.Fatalf("parse base url: %v", err)
	}
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func signUp(t *testing.T, client *http.Client, baseURL, username, email, password string) {
	t.Helper()
	resp, env := doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/signup", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}, nil)
	if resp.StatusCode != http.StatusCreated || !env.Success {
		t.Fatalf("signup failed: status=%d success=%v", resp.StatusCode, env.Success)
	}
}

// signIn authenticates from a named device and returns the issued pair.
func signIn(t *testing.T, client *http.Client, baseURL, username, password, device string) tokenPair {
	t.Helper()
	resp, env := doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/signin", map[string]string{
		"username": username,
		"password": password,
	}, map[string]string{"User-Agent": device})
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("signin from %s failed: status=%d success=%v", device, resp.StatusCode, env.Success)
	}
	var pair tokenPair
	if err := json.Unmarshal(env.Data, &pair); err != nil {
		t.Fatalf("decode token pair: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("signin returned an incomplete token pair")
	}
	return pair
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func bearerFrom(device, token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token, "User-Agent": device}
}
