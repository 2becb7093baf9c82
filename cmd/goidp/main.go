// Command goidp runs the identity provider HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	goIdP "github.com/MrEthical07/goIdP"
	"github.com/MrEthical07/goIdP/httpapi"
	promexport "github.com/MrEthical07/goIdP/metrics/export/prometheus"
	"github.com/MrEthical07/goIdP/notify"
	"github.com/MrEthical07/goIdP/passkey"
	"github.com/MrEthical07/goIdP/session"
	"github.com/MrEthical07/goIdP/social"
	"github.com/MrEthical07/goIdP/store/postgres"
)

func main() {
	rotateKeys := flag.Bool("rotate-keys", false, "install a new signing key and exit")
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger, *rotateKeys); err != nil {
		logger.Fatal("goidp stopped", zap.Error(err))
	}
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg serverConfig, logger *zap.Logger, rotateKeys bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()

	db, err := postgres.Open(cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer func() { _ = db.Close() }()
	if cfg.Migrate {
		if err := postgres.Migrate(db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	builder := goIdP.New().
		WithConfig(cfg.Engine).
		WithRedis(rdb).
		WithRepository(postgres.New(db)).
		WithLogger(logger)
	if err := wireSenders(builder, cfg, logger); err != nil {
		return err
	}
	if err := wireSocial(ctx, builder, cfg); err != nil {
		return err
	}
	if cfg.PasskeyRPID != "" {
		svc, err := passkey.New(passkey.Config{
			RPID:          cfg.PasskeyRPID,
			RPDisplayName: cfg.PasskeyRPName,
			RPOrigins:     cfg.PasskeyRPOrigins,
		})
		if err != nil {
			return fmt.Errorf("passkeys: %w", err)
		}
		builder.WithPasskeys(svc)
	}
	closeAudit, err := wireAudit(builder, cfg, logger)
	if err != nil {
		return err
	}
	defer closeAudit()

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	for _, w := range cfg.Engine.Lint() {
		logger.Warn("config", zap.String("code", w.Code), zap.String("message", w.Message))
	}

	if rotateKeys {
		return engine.RotateSigningKey(ctx)
	}

	sessions, devices, err := cookieCodecs(cfg)
	if err != nil {
		return err
	}
	api, err := httpapi.New(engine, sessions, devices, logger, cfg.HTTP)
	if err != nil {
		return err
	}

	servers := []*http.Server{{
		Addr:              cfg.Addr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promexport.NewExporter(engine).Handler())
		servers = append(servers, &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}
	return serve(ctx, logger, cfg.ShutdownTimeout, servers...)
}

// serve runs every server until ctx is done or one of them fails, then
// shuts them all down.
func serve(ctx context.Context, logger *zap.Logger, timeout time.Duration, servers ...*http.Server) error {
	errc := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info("listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
	return runErr
}

func wireSenders(b *goIdP.Builder, cfg serverConfig, logger *zap.Logger) error {
	if cfg.SMTPHost != "" {
		sender, err := notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		if err != nil {
			return fmt.Errorf("smtp: %w", err)
		}
		b.WithEmailSender(sender)
	} else {
		logger.Warn("GOIDP_SMTP_HOST not set; email mfa and password reset are unavailable")
	}

	if cfg.TwilioAccountSID != "" {
		sender, err := notify.NewTwilioSender(notify.TwilioConfig{
			AccountSID:          cfg.TwilioAccountSID,
			AuthToken:           cfg.TwilioAuthToken,
			From:                cfg.TwilioFrom,
			MessagingServiceSID: cfg.TwilioMessagingServiceSID,
		})
		if err != nil {
			return fmt.Errorf("twilio: %w", err)
		}
		b.WithSMSSender(sender)
	}
	return nil
}

func wireSocial(ctx context.Context, b *goIdP.Builder, cfg serverConfig) error {
	if cfg.GoogleClientID != "" {
		google, err := social.NewGoogle(ctx, cfg.GoogleClientID)
		if err != nil {
			return err
		}
		b.WithSocialProvider(google)
	}
	if cfg.GitHubClientID != "" {
		b.WithSocialProvider(social.NewGitHub(social.GitHubConfig{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.GitHubRedirectURL,
		}))
	}
	return nil
}

// cookieCodecs builds the SSO and remember-device cookie codecs. Without a
// hash key both stay disabled.
func cookieCodecs(cfg serverConfig) (*session.Store, *session.DeviceCodec, error) {
	if len(cfg.CookieHashKey) == 0 {
		return nil, nil, nil
	}
	sessions, err := session.NewStore(session.Config{
		HashKey:  cfg.CookieHashKey,
		BlockKey: cfg.CookieBlockKey,
		TTL:      cfg.Engine.Session.TTL,
		Secure:   cfg.CookieSecure,
		Domain:   cfg.CookieDomain,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("session cookies: %w", err)
	}
	var devices *session.DeviceCodec
	if days := cfg.Engine.Mfa.RememberDeviceDays; days > 0 {
		devices, err = session.NewDeviceCodec(cfg.CookieHashKey, cfg.CookieBlockKey, days, cfg.CookieSecure)
		if err != nil {
			return nil, nil, fmt.Errorf("device cookies: %w", err)
		}
	}
	return sessions, devices, nil
}

// wireAudit sends audit events to the zap logger, an append-only JSON lines
// file, or both.
func wireAudit(builder *goIdP.Builder, cfg serverConfig, logger *zap.Logger) (func(), error) {
	var sinks goIdP.MultiSink
	closeFn := func() {}
	if cfg.AuditLog {
		sinks = append(sinks, goIdP.NewLogSink(logger.Named("audit")))
	}
	if cfg.AuditFile != "" {
		f, err := os.OpenFile(cfg.AuditFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("audit file: %w", err)
		}
		sinks = append(sinks, goIdP.NewJSONWriterSink(f))
		closeFn = func() { _ = f.Close() }
	}
	if len(sinks) > 0 {
		builder.WithAuditSink(sinks)
	}
	return closeFn, nil
}
