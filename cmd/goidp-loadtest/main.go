package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	goIdP "github.com/MrEthical07/goIdP"
	"github.com/MrEthical07/goIdP/password"
	"github.com/MrEthical07/goIdP/store/memory"
)

const (
	clientID    = "loadtest-spa"
	redirectURI = "https://loadtest.example.com/callback"
	userPass    = "Loadtest-Pass-1"
)

func main() {
	var (
		users       = flag.Int("users", 100, "number of users to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 2000, "operations per phase (authorize + exchange)")
		redisAddr   = flag.String("redis", "", "redis host:port; defaults to GOIDP_REDIS_URL, then miniredis")
		prefix      = flag.String("prefix", "loadtest", "kv key prefix")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	client, closeRedis, err := connect(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer closeRedis()

	engine, emails, err := buildEngine(client, *prefix, *users)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	codes, authorizeStats := runAuthorizePhase(ctx, engine, emails, *ops, *concurrency)
	exchangeStats := runExchangePhase(ctx, engine, codes, *concurrency)
	replays := runReplayPhase(ctx, engine, emails, *concurrency)

	printStats("authorize", authorizeStats)
	printStats("exchange", exchangeStats)
	fmt.Printf("replay: double exchanges=%d\n", replays)
	if replays != 0 {
		os.Exit(1)
	}
}

// connect dials addr, falling back to GOIDP_REDIS_URL and then to an
// in-process miniredis.
func connect(addr string) (*redis.Client, func(), error) {
	var opts *redis.Options
	switch url := os.Getenv("GOIDP_REDIS_URL"); {
	case addr != "":
		opts = &redis.Options{Addr: addr}
	case url != "":
		var err error
		if opts, err = redis.ParseURL(url); err != nil {
			return nil, nil, err
		}
	}
	if opts != nil {
		client := redis.NewClient(opts)
		fmt.Printf("redis %s\n", opts.Addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	fmt.Printf("miniredis %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func buildEngine(client *redis.Client, prefix string, users int) (*goIdP.Engine, []string, error) {
	cfg := goIdP.DefaultConfig()
	cfg.Token.Issuer = "https://loadtest.example.com"
	cfg.KV.Prefix = prefix
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Consent.Enabled = false
	// Every worker signs in repeatedly; lockout would only add noise.
	cfg.Lockout.LoginThreshold = 0
	cfg.Security.ProductionMode = false

	repo := memory.New()
	repo.PutApp(goIdP.App{
		ID:                 1,
		ClientID:           clientID,
		Name:               "Loadtest SPA",
		Type:               goIdP.AppTypeSPA,
		RedirectURIs:       []string{redirectURI},
		IsActive:           true,
		UseSystemMfaConfig: true,
	})

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, nil, err
	}
	hash, err := hasher.Hash(userPass)
	if err != nil {
		return nil, nil, err
	}

	fmt.Printf("seeding %d users...\n", users)
	emails := make([]string, users)
	for i := range emails {
		emails[i] = fmt.Sprintf("user-%d@loadtest.example.com", i)
		repo.PutUser(goIdP.User{
			AuthID:         fmt.Sprintf("auth-%d", i),
			Email:          emails[i],
			PasswordHash:   hash,
			EmailVerified:  true,
			IsActive:       true,
			OtpLastCounter: -1,
		})
	}

	engine, err := goIdP.New().
		WithConfig(cfg).
		WithRedis(client).
		WithRepository(repo).
		Build()
	if err != nil {
		return nil, nil, err
	}
	return engine, emails, nil
}

type pendingCode struct {
	code     string
	verifier string
}

func authorize(ctx context.Context, engine *goIdP.Engine, email string) (pendingCode, error) {
	verifier := oauth2.GenerateVerifier()
	res, err := engine.AuthorizePassword(ctx, goIdP.AuthorizeRequest{
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		ResponseType:        "code",
		Scope:               "openid",
		CodeChallenge:       oauth2.S256ChallengeFromVerifier(verifier),
		CodeChallengeMethod: goIdP.CodeChallengeS256,
	}, email, userPass)
	if err != nil {
		return pendingCode{}, err
	}
	if !res.Ready {
		return pendingCode{}, fmt.Errorf("flow stopped at %q", res.NextPage)
	}
	return pendingCode{code: res.Code, verifier: verifier}, nil
}

func exchange(ctx context.Context, engine *goIdP.Engine, p pendingCode) error {
	_, err := engine.ExchangeCode(ctx, goIdP.ExchangeInput{
		Code:         p.code,
		CodeVerifier: p.verifier,
		ClientID:     clientID,
		RedirectURI:  redirectURI,
	})
	return err
}

// runPhase feeds job indexes 0..n-1 to concurrency workers and records the
// latency and outcome of each op call.
func runPhase(n, concurrency int, op func(i int) error) phaseStats {
	jobs := make(chan int)
	rec := newRecorder(n)

	var wg sync.WaitGroup
	started := time.Now()
	for w := 0; w < min(concurrency, max(n, 1)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				t0 := time.Now()
				err := op(i)
				rec.add(time.Since(t0), err)
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return rec.stats(time.Since(started))
}

func runAuthorizePhase(ctx context.Context, engine *goIdP.Engine, emails []string, ops, concurrency int) ([]pendingCode, phaseStats) {
	var mu sync.Mutex
	codes := make([]pendingCode, 0, ops)
	stats := runPhase(ops, concurrency, func(i int) error {
		p, err := authorize(ctx, engine, emails[i%len(emails)])
		if err == nil {
			mu.Lock()
			codes = append(codes, p)
			mu.Unlock()
		}
		return err
	})
	return codes, stats
}

func runExchangePhase(ctx context.Context, engine *goIdP.Engine, codes []pendingCode, concurrency int) phaseStats {
	return runPhase(len(codes), concurrency, func(i int) error {
		return exchange(ctx, engine, codes[i])
	})
}

// runReplayPhase races concurrency exchanges of one fresh code per user and
// returns how many codes were redeemed more than once.
func runReplayPhase(ctx context.Context, engine *goIdP.Engine, emails []string, concurrency int) int64 {
	var doubles int64
	for _, email := range emails {
		p, err := authorize(ctx, engine, email)
		if err != nil {
			continue
		}
		stats := runPhase(concurrency, concurrency, func(int) error {
			return exchange(ctx, engine, p)
		})
		if int64(stats.ops)-stats.failures > 1 {
			doubles++
		}
	}
	return doubles
}

type recorder struct {
	mu       sync.Mutex
	samples  []time.Duration
	failures int64
}

func newRecorder(n int) *recorder {
	return &recorder{samples: make([]time.Duration, 0, n)}
}

func (r *recorder) add(d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, d)
	if err != nil {
		r.failures++
	}
}

type phaseStats struct {
	elapsed  time.Duration
	ops      int
	failures int64
	quantile map[int]time.Duration
}

func (r *recorder) stats(elapsed time.Duration) phaseStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	slices.Sort(r.samples)
	out := phaseStats{
		elapsed:  elapsed,
		ops:      len(r.samples),
		failures: r.failures,
		quantile: make(map[int]time.Duration, 3),
	}
	for _, q := range []int{50, 95, 99} {
		out.quantile[q] = nearestRank(r.samples, q)
	}
	return out
}

// nearestRank expects sorted samples.
func nearestRank(sorted []time.Duration, q int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := (len(sorted)*q + 99) / 100
	return sorted[min(max(rank, 1), len(sorted))-1]
}

func (s phaseStats) rate() float64 {
	if s.elapsed <= 0 {
		return 0
	}
	return float64(s.ops) / s.elapsed.Seconds()
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%-9s %6d ops %4d failed in %-8s %7.0f/s  p50 %-9s p95 %-9s p99 %s\n",
		name, s.ops, s.failures,
		s.elapsed.Round(time.Millisecond), s.rate(),
		s.quantile[50].Round(time.Microsecond),
		s.quantile[95].Round(time.Microsecond),
		s.quantile[99].Round(time.Microsecond),
	)
}
