package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config drives one traffic run against a live server.
type Config struct {
	BaseURL     string
	Profile     string // health | auth | mixed
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        int64
	Username    string
	Password    string
}

type Result struct {
	TotalRequests int
	Failures      int
	StatusClasses map[string]int
}

type target struct {
	method string
	path   string
	body   func(r *rand.Rand) []byte
}

// Run generates request traffic at roughly cfg.RPS until cfg.Duration
// elapses. Failures count transport errors and 5xx responses.
func Run(ctx context.Context, cfg Config) (Result, error) {
	if cfg.BaseURL == "" {
		return Result{}, fmt.Errorf("base url is required")
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}

	targets := profileTargets(normalizeProfile(cfg.Profile), cfg)

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var mu sync.Mutex
	res := Result{StatusClasses: map[string]int{}}
	client := &http.Client{Timeout: 10 * time.Second}
	interval := time.Second / time.Duration(cfg.RPS)
	ticks := make(chan struct{}, cfg.Concurrency)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer close(ticks)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				select {
				case ticks <- struct{}{}:
				default:
				}
			}
		}
	})

	for i := 0; i < cfg.Concurrency; i++ {
		rng := rand.New(rand.NewSource(cfg.Seed + int64(i)))
		g.Go(func() error {
			for range ticks {
				t := targets[rng.Intn(len(targets))]
				status, err := fire(ctx, client, cfg.BaseURL, t, rng)
				mu.Lock()
				res.TotalRequests++
				if err != nil || status >= 500 {
					res.Failures++
				}
				if err == nil {
					res.StatusClasses[classifyStatusClass(status)]++
				}
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, err
	}
	return res, nil
}

func fire(ctx context.Context, client *http.Client, baseURL string, t target, rng *rand.Rand) (int, error) {
	var body *bytes.Reader
	if t.body != nil {
		body = bytes.NewReader(t.body(rng))
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, t.method, strings.TrimRight(baseURL, "/")+t.path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", "loadgen/1.0")
	if t.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

func profileTargets(profile string, cfg Config) []target {
	health := target{method: http.MethodGet, path: "/health/live"}
	signin := target{
		method: http.MethodPost,
		path:   "/api/v1/auth/signin",
		body: func(r *rand.Rand) []byte {
			b, _ := json.Marshal(map[string]string{
				"username": cfg.Username,
				"password": cfg.Password,
			})
			return b
		},
	}
	refresh := target{
		method: http.MethodPost,
		path:   "/api/v1/auth/refresh",
		body: func(r *rand.Rand) []byte {
			b, _ := json.Marshal(map[string]string{"refresh_token": fmt.Sprintf("junk-%d", r.Int63())})
			return b
		},
	}
	switch profile {
	case "health":
		return []target{health}
	case "auth":
		return []target{signin, refresh}
	default:
		return []target{health, signin, refresh}
	}
}

func normalizeProfile(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	switch p {
	case "health", "auth", "mixed":
		return p
	case "":
		return "mixed"
	default:
		return "mixed"
	}
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}
