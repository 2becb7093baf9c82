package goIdP

import (
	"context"
	"errors"
	"time"

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

// Engine runs authorization flows and issues tokens. It holds no per-request
// state: every flow lives in the KV store, so any number of engines can
// serve the same deployment.
type Engine struct {
	config Config
	logger *zap.Logger
	now    func() time.Time

	kv               *kv.Store
	authCodes        *stores.AuthCodeStore
	emailCodes       *stores.MfaCodeStore
	smsCodes         *stores.MfaCodeStore
	otpCodes         *stores.MfaCodeStore
	refreshTokens    *stores.RefreshTokenStore
	resetCodes       *stores.ChallengeStore
	verifyCodes      *stores.ChallengeStore
	changeEmailCodes *stores.ChallengeStore
	passkeyEnroll    *stores.BlobStore
	passkeyVerify    *stores.BlobStore

	loginGuard       *limiters.Guard
	resetGuard       *limiters.Guard
	smsSendGuard     *limiters.Guard
	emailSendGuard   *limiters.Guard
	changeEmailGuard *limiters.Guard

	keys     *jwt.KeyRing
	tokens   *jwt.Manager
	hasher   *password.Hasher
	policy   password.Policy
	totp     *totpManager
	passkeys *passkey.Service

	users    UserProvider
	apps     AppProvider
	orgs     OrgProvider
	consents ConsentProvider
	creds    PasskeyProvider
	recovery RecoveryCodeProvider

	email  EmailSender
	sms    SMSSender
	social map[string]social.Provider

	audit   *internalaudit.Dispatcher
	metrics *Metrics
}

// Close flushes the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Config returns a copy of the configuration the engine was built with.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Ping checks the KV store.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.kv == nil {
		return ErrEngineNotReady
	}
	if err := e.kv.Ping(ctx); err != nil {
		return backendError(err)
	}
	return nil
}

// AuditDropped returns the number of audit events dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// providerErr keeps engine errors returned by providers and wraps anything
// else as a backend failure.
func providerErr(err error) error {
	var ee *Error
	if errors.As(err, &ee) {
		return err
	}
	return backendError(err)
}

func (e *Engine) getUserByID(ctx context.Context, id int64) (*User, error) {
	user, err := e.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, providerErr(err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (e *Engine) getApp(ctx context.Context, clientID string) (*App, error) {
	if clientID == "" {
		return nil, ErrAppNotFound
	}
	app, err := e.apps.GetAppByClientID(ctx, clientID)
	if err != nil {
		return nil, providerErr(err)
	}
	if app == nil {
		return nil, ErrAppNotFound
	}
	return app, nil
}

func (e *Engine) updateUser(ctx context.Context, id int64, update UserUpdate) (*User, error) {
	user, err := e.users.UpdateUser(ctx, id, update)
	if err != nil {
		return nil, providerErr(err)
	}
	return user, nil
}
