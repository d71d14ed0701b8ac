package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type AuthAbuseScope string

const (
	AuthAbuseScopeLogin   AuthAbuseScope = "login"
	AuthAbuseScopeRefresh AuthAbuseScope = "refresh"
	AuthAbuseScopeForgot  AuthAbuseScope = "forgot"
)

// AuthAbusePolicy shapes the exponential cooldown applied to repeated
// authentication failures. The first FreeAttempts failures cost nothing;
// each further failure doubles (Multiplier) the delay up to MaxDelay. A
// quiet period of ResetWindow clears the failure count.
type AuthAbusePolicy struct {
	FreeAttempts int
	BaseDelay    time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	ResetWindow  time.Duration
}

func (p AuthAbusePolicy) withDefaults() AuthAbusePolicy {
	if p.FreeAttempts <= 0 {
		p.FreeAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Minute
	}
	if p.ResetWindow <= 0 {
		p.ResetWindow = 15 * time.Minute
	}
	return p
}

// AuthAbuseGuard throttles repeated authentication failures per identity
// and per source IP.
type AuthAbuseGuard interface {
	Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error
}

type RedisAuthAbuseGuard struct {
	client redis.UniversalClient
	prefix string
	policy AuthAbusePolicy
}

func NewRedisAuthAbuseGuard(client redis.UniversalClient, prefix string, policy AuthAbusePolicy) *RedisAuthAbuseGuard {
	return &RedisAuthAbuseGuard{client: client, prefix: prefix, policy: policy.withDefaults()}
}

func (g *RedisAuthAbuseGuard) stateKey(scope AuthAbuseScope, kind, value string) string {
	return fmt.Sprintf("%s:%s:%s:%s", g.prefix, scope, kind, value)
}

func (g *RedisAuthAbuseGuard) keys(scope AuthAbuseScope, identity, ip string) []string {
	keys := make([]string, 0, 2)
	if identity != "" {
		keys = append(keys, g.stateKey(scope, "id", normalizeAuthIdentity(identity)))
	}
	if ip != "" {
		keys = append(keys, g.stateKey(scope, "ip", ip))
	}
	return keys
}

// Check returns the remaining cooldown for the identity/ip pair, zero when
// no cooldown is active.
func (g *RedisAuthAbuseGuard) Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	now := time.Now()
	var longest time.Duration
	for _, key := range g.keys(scope, identity, ip) {
		state, err := g.client.HGetAll(ctx, key).Result()
		if err != nil {
			return 0, err
		}
		if len(state) == 0 {
			continue
		}
		until, err := parseEpochMillis(state["cooldown_until_ms"])
		if err != nil {
			return 0, fmt.Errorf("abuse guard state %s: %w", key, err)
		}
		if remaining := until.Sub(now); remaining > longest {
			longest = remaining
		}
	}
	return longest, nil
}

// RegisterFailure records one failure and returns the cooldown the caller
// should impose before the next attempt.
func (g *RedisAuthAbuseGuard) RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	now := time.Now()
	var longest time.Duration
	for _, key := range g.keys(scope, identity, ip) {
		state, err := g.client.HGetAll(ctx, key).Result()
		if err != nil {
			return 0, err
		}
		failures := 0
		if len(state) > 0 {
			last, err := parseEpochMillis(state["last_failure_ms"])
			if err != nil {
				return 0, fmt.Errorf("abuse guard state %s: %w", key, err)
			}
			if n, err := strconv.Atoi(state["failures"]); err == nil && now.Sub(last) < g.policy.ResetWindow {
				failures = n
			}
		}
		failures++

		delay := g.cooldownFor(failures)
		until := now.Add(delay)
		err = g.client.HSet(ctx, key,
			"failures", strconv.Itoa(failures),
			"last_failure_ms", strconv.FormatInt(now.UnixMilli(), 10),
			"cooldown_until_ms", strconv.FormatInt(until.UnixMilli(), 10),
		).Err()
		if err != nil {
			return 0, err
		}
		ttl := g.policy.ResetWindow
		if delay > ttl {
			ttl = delay
		}
		if err := g.client.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, err
		}
		if delay > longest {
			longest = delay
		}
	}
	return longest, nil
}

// Reset clears the failure state after a successful attempt.
func (g *RedisAuthAbuseGuard) Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error {
	keys := g.keys(scope, identity, ip)
	if len(keys) == 0 {
		return nil
	}
	return g.client.Del(ctx, keys...).Err()
}

func (g *RedisAuthAbuseGuard) cooldownFor(failures int) time.Duration {
	over := failures - g.policy.FreeAttempts
	if over <= 0 {
		return 0
	}
	delay := g.policy.BaseDelay
	for i := 1; i < over; i++ {
		delay = time.Duration(float64(delay) * g.policy.Multiplier)
		if delay >= g.policy.MaxDelay {
			return g.policy.MaxDelay
		}
	}
	if delay > g.policy.MaxDelay {
		delay = g.policy.MaxDelay
	}
	return delay
}

func normalizeAuthIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

func parseEpochMillis(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
