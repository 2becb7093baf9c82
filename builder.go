package goIdP

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	internalaudit "github.com/MrEthical07/goIdP/internal/audit"
	"github.com/MrEthical07/goIdP/internal/limiters"
	"github.com/MrEthical07/goIdP/internal/stores"
	"github.com/MrEthical07/goIdP/jwt"
	"github.com/MrEthical07/goIdP/kv"
	"github.com/MrEthical07/goIdP/passkey"
	"github.com/MrEthical07/goIdP/password"
	"github.com/MrEthical07/goIdP/social"
)

// Builder assembles an Engine. Configure it once during start-up; Build may
// be called only once.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	logger *zap.Logger
	now    func() time.Time

	users    UserProvider
	apps     AppProvider
	orgs     OrgProvider
	consents ConsentProvider
	creds    PasskeyProvider
	recovery RecoveryCodeProvider

	email    EmailSender
	sms      SMSSender
	social   []social.Provider
	passkeys *passkey.Service

	auditSink AuditSink

	built bool
}

// New returns a builder holding the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration. The builder keeps its own copy.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the KV backend. A single-node, sentinel or cluster client
// all work.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the engine clock. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithRepository sets every persistence provider from one implementation,
// such as store/postgres.
func (b *Builder) WithRepository(repo Repository) *Builder {
	b.users = repo
	b.apps = repo
	b.orgs = repo
	b.consents = repo
	b.creds = repo
	b.recovery = repo
	return b
}

func (b *Builder) WithUserProvider(p UserProvider) *Builder {
	b.users = p
	return b
}

func (b *Builder) WithAppProvider(p AppProvider) *Builder {
	b.apps = p
	return b
}

func (b *Builder) WithOrgProvider(p OrgProvider) *Builder {
	b.orgs = p
	return b
}

func (b *Builder) WithConsentProvider(p ConsentProvider) *Builder {
	b.consents = p
	return b
}

func (b *Builder) WithPasskeyProvider(p PasskeyProvider) *Builder {
	b.creds = p
	return b
}

func (b *Builder) WithRecoveryCodeProvider(p RecoveryCodeProvider) *Builder {
	b.recovery = p
	return b
}

// WithEmailSender enables email MFA, password reset and email verification.
func (b *Builder) WithEmailSender(s EmailSender) *Builder {
	b.email = s
	return b
}

// WithSMSSender enables SMS MFA.
func (b *Builder) WithSMSSender(s SMSSender) *Builder {
	b.sms = s
	return b
}

// WithSocialProvider registers p under p.Name(). Registering the same name
// twice keeps the last provider.
func (b *Builder) WithSocialProvider(p social.Provider) *Builder {
	b.social = append(b.social, p)
	return b
}

// WithPasskeys enables passkey sign in and enrollment.
func (b *Builder) WithPasskeys(svc *passkey.Service) *Builder {
	b.passkeys = svc
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("user provider required")
	}
	if b.apps == nil {
		return nil, errors.New("app provider required")
	}
	if cfg.Consent.Enabled && b.consents == nil {
		return nil, errors.New("Consent enabled requires a consent provider")
	}
	if cfg.Mfa.RecoveryCodes && b.recovery == nil {
		return nil, errors.New("Mfa RecoveryCodes requires a recovery code provider")
	}
	if b.passkeys != nil && b.creds == nil {
		return nil, errors.New("passkeys require a passkey provider")
	}
	if cfg.Mfa.OfferPasskeyEnroll && b.passkeys == nil {
		return nil, errors.New("Mfa OfferPasskeyEnroll requires a passkey service")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	store := kv.New(b.redis, cfg.KV.Prefix)

	engine := &Engine{
		config:   cfg,
		logger:   logger,
		now:      now,
		kv:       store,
		users:    b.users,
		apps:     b.apps,
		orgs:     b.orgs,
		consents: b.consents,
		creds:    b.creds,
		recovery: b.recovery,
		email:    b.email,
		sms:      b.sms,
		passkeys: b.passkeys,
		social:   make(map[string]social.Provider, len(b.social)),
	}
	for _, p := range b.social {
		if p != nil {
			engine.social[p.Name()] = p
		}
	}

	// -------- EPHEMERAL STORES --------
	engine.authCodes = stores.NewAuthCodeStore(store)
	engine.emailCodes = stores.NewMfaCodeStore(store, kv.EmailMfaCodeKey)
	engine.smsCodes = stores.NewMfaCodeStore(store, kv.SmsMfaCodeKey)
	engine.otpCodes = stores.NewMfaCodeStore(store, kv.OtpMfaCodeKey)
	engine.refreshTokens = stores.NewRefreshTokenStore(store)
	engine.resetCodes = stores.NewChallengeStore(store, kv.PasswordResetCodeKey)
	engine.verifyCodes = stores.NewChallengeStore(store, kv.EmailVerificationCodeKey)
	engine.changeEmailCodes = stores.NewChallengeStore(store, kv.ChangeEmailCodeKey)
	engine.passkeyEnroll = stores.NewBlobStore(store, kv.PasskeyEnrollKey)
	engine.passkeyVerify = stores.NewBlobStore(store, kv.PasskeyVerifyKey)

	// -------- GUARDS --------
	engine.loginGuard = limiters.NewGuard(store, limiters.Policy{
		Namespace: kv.FailedLoginAttemptsKey,
		Threshold: cfg.Lockout.LoginThreshold,
		Window:    cfg.Lockout.LoginWindow,
	})
	engine.resetGuard = limiters.NewGuard(store, limiters.Policy{
		Namespace: kv.PasswordResetAttemptsKey,
		Threshold: cfg.Lockout.PasswordResetThreshold,
		Window:    cfg.Lockout.PasswordResetWindow,
	})
	engine.smsSendGuard = limiters.NewGuard(store, limiters.Policy{
		Namespace: kv.SmsMfaMessageAttemptsKey,
		Threshold: cfg.Mfa.SmsSendThreshold,
		Window:    cfg.Lockout.SendWindow,
	})
	engine.emailSendGuard = limiters.NewGuard(store, limiters.Policy{
		Namespace: kv.EmailMfaEmailAttemptsKey,
		Threshold: cfg.Mfa.EmailSendThreshold,
		Window:    cfg.Lockout.SendWindow,
	})
	engine.changeEmailGuard = limiters.NewGuard(store, limiters.Policy{
		Namespace: kv.ChangeEmailAttemptsKey,
		Threshold: cfg.Lockout.ChangeEmailThreshold,
		Window:    cfg.Lockout.ChangeEmailWindow,
	})

	// -------- CREDENTIALS --------
	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher
	engine.policy = password.Policy{
		MinLength:      cfg.Account.PasswordMinLength,
		RequireDigit:   cfg.Account.PasswordRequireDigit,
		RequireUpper:   cfg.Account.PasswordRequireUpper,
		RequireLower:   cfg.Account.PasswordRequireLower,
		RequireSpecial: cfg.Account.PasswordRequireSpecial,
	}

	totpCfg := cfg.TOTP
	if totpCfg.Issuer == "" {
		totpCfg.Issuer = cfg.Token.Issuer
	}
	engine.totp = newTOTPManager(totpCfg)

	// -------- TOKENS --------
	engine.keys = jwt.NewKeyRing(store, maxTokenLifetime(cfg.Token))
	jm, err := jwt.NewManager(jwt.Config{
		Issuer: cfg.Token.Issuer,
		Leeway: cfg.Token.Leeway,
	}, jwt.NewKeyCache(engine.keys, cfg.Token.KeyCacheTTL, now))
	if err != nil {
		return nil, err
	}
	engine.tokens = jm

	// -------- OBSERVABILITY --------
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return engine, nil
}

// maxTokenLifetime is how long a rotated-out key must stay verifiable.
func maxTokenLifetime(c TokenConfig) time.Duration {
	longest := c.AccessTTL
	for _, d := range []time.Duration{c.IDTokenTTL, c.S2SAccessTTL} {
		if d > longest {
			longest = d
		}
	}
	return longest
}
