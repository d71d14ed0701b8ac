package integration

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/pkazmin/auth-rbac-service/internal/service"
)

func TestSignInCooldownAfterRepeatedFailures(t *testing.T) {
	baseURL, client, closeFn := newAuthTestServer(t)
	defer closeFn()

	signUp(t, client, baseURL, "guarded", "guarded@example.com", "Valid#Pass1234")

	// Free attempts fail with 401; once the cooldown engages the guard
	// answers 429 before credentials are even checked.
	for i := 0; i < 6; i++ {
		resp, _ := doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/signin", map[string]string{
			"username": "guarded",
			"password": "wrong-password",
		}, map[string]string{"User-Agent": "firefox"})
		if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusTooManyRequests {
			t.Fatalf("attempt %d: expected 401 or 429, got %d", i+1, resp.StatusCode)
		}
	}

	// The cooldown now rejects even the correct password.
	resp, env := doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/signin", map[string]string{
		"username": "guarded",
		"password": "Valid#Pass1234",
	}, map[string]string{"User-Agent": "firefox"})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 during cooldown, got %d", resp.StatusCode)
	}
	if env.Error == nil || env.Error.Code != "COOLDOWN_ACTIVE" {
		t.Fatalf("expected COOLDOWN_ACTIVE, got %+v", env.Error)
	}
}

func TestDenylistConcurrentDenyAndCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache := service.NewRedisDenylistCache(client, "itest:race")

	ctx := context.Background()
	const workers = 32

	var wg sync.WaitGroup
	errCh := make(chan error, workers*2)
	for i := 0; i < workers; i++ {
		jti := "jti-" + strconv.Itoa(i)
		wg.Add(1)
		go func(jti string) {
			defer wg.Done()
			if err := cache.Deny(ctx, jti, time.Minute); err != nil {
				errCh <- fmt.Errorf("deny %s: %w", jti, err)
				return
			}
			denied, err := cache.IsDenied(ctx, jti)
			if err != nil {
				errCh <- fmt.Errorf("check %s: %w", jti, err)
				return
			}
			if !denied {
				errCh <- fmt.Errorf("%s not denied after deny", jti)
			}
		}(jti)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent deny/check: %v", err)
	}
}

func TestAbuseGuardConcurrentFailuresNeverLoseCount(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	guard := service.NewRedisAuthAbuseGuard(client, "itest:abuse", service.AuthAbusePolicy{
		FreeAttempts: 3,
		BaseDelay:    time.Second,
	})

	ctx := context.Background()
	const attempts = 20

	var wg sync.WaitGroup
	errCh := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := guard.RegisterFailure(ctx, service.AuthAbuseScopeLogin, "victim@example.com", "203.0.113.9"); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent register failure: %v", err)
	}

	delay, err := guard.Check(ctx, service.AuthAbuseScopeLogin, "victim@example.com", "203.0.113.9")
	if err != nil {
		t.Fatalf("check after burst: %v", err)
	}
	if delay <= 0 {
		t.Fatal("expected an active cooldown after a failure burst")
	}
}
