package goIdP

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	internalaudit "github.com/MrEthical07/goIdP/internal/audit"
	"github.com/MrEthical07/goIdP/internal/flows"
	internalmetrics "github.com/MrEthical07/goIdP/internal/metrics"
)

// MfaChannel is a second factor channel.
type MfaChannel = flows.Channel

const (
	MfaOtp   = flows.ChannelOtp
	MfaSms   = flows.ChannelSms
	MfaEmail = flows.ChannelEmail
)

// Policy selects an account sub-flow on /authorize.
type Policy = flows.Policy

const (
	PolicyNone           = flows.PolicyNone
	PolicyChangePassword = flows.PolicyChangePassword
	PolicyChangeEmail    = flows.PolicyChangeEmail
	PolicyResetMfa       = flows.PolicyResetMfa
	PolicySwitchOrg      = flows.PolicySwitchOrg
)

// AppType distinguishes public browser clients from confidential services.
type AppType string

const (
	// AppTypeSPA apps use the authorization code flow with PKCE.
	AppTypeSPA AppType = "spa"
	// AppTypeS2S apps authenticate with a secret and use client credentials.
	AppTypeS2S AppType = "s2s"
)

// Auth methods recorded on codes and sessions.
const (
	AuthMethodPassword     = "password"
	AuthMethodSocial       = "social"
	AuthMethodPasskey      = "passkey"
	AuthMethodRecoveryCode = "recovery_code"
	AuthMethodSession      = "session"
)

// User is the persisted account.
type User struct {
	ID           int64
	AuthID       string
	Email        string
	PasswordHash string

	SocialAccountID   string
	SocialAccountType string

	FirstName string
	LastName  string
	Locale    string
	Org       string
	Roles     []string

	MfaTypes         []MfaChannel
	EmailVerified    bool
	OtpSecret        string
	OtpVerified      bool
	OtpLastCounter   int64
	SmsPhone         string
	SmsPhoneVerified bool

	IsActive bool
	// LinkedID points at the account this one is linked to, 0 when unlinked.
	LinkedID  int64
	DeletedAt *time.Time
}

// Usable reports whether the account may sign in.
func (u *User) Usable() bool {
	return u != nil && u.IsActive && u.DeletedAt == nil
}

// UserUpdate lists the fields to change; nil fields are left as they are.
type UserUpdate struct {
	Email             *string
	PasswordHash      *string
	EmailVerified     *bool
	MfaTypes          *[]MfaChannel
	OtpSecret         *string
	OtpVerified       *bool
	OtpLastCounter    *int64
	SmsPhone          *string
	SmsPhoneVerified  *bool
	SocialAccountID   *string
	SocialAccountType *string
	Org               *string
}

// CreateUserInput is the input of UserProvider.CreateUser.
type CreateUserInput struct {
	AuthID            string
	Email             string
	PasswordHash      string
	FirstName         string
	LastName          string
	Locale            string
	Org               string
	EmailVerified     bool
	SocialAccountID   string
	SocialAccountType string
}

// App is a registered OAuth client. It is read-only to the engine.
type App struct {
	ID           int64
	ClientID     string
	Secret       string
	Name         string
	Type         AppType
	RedirectURIs []string
	Scopes       []string
	IsActive     bool

	// UseSystemMfaConfig false replaces the system MFA flags with the
	// app's own.
	UseSystemMfaConfig bool
	RequireEmailMfa    bool
	RequireOtpMfa      bool
	RequireSmsMfa      bool
}

// Org is a tenant users can belong to.
type Org struct {
	ID          int64
	Slug        string
	Name        string
	IsActive    bool
	AllowSignUp bool
	// EnforceMfa replaces the system enforcement list when non-nil.
	EnforceMfa        []MfaChannel
	TermsLink         string
	PrivacyPolicyLink string
}

// PasskeyCredential is a stored WebAuthn credential.
type PasskeyCredential struct {
	CredentialID []byte
	// Data is the encoded credential (passkey.EncodeCredential).
	Data      []byte
	CreatedAt time.Time
}

// UserProvider is implemented by the account store.
type UserProvider interface {
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByAuthID(ctx context.Context, authID string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserBySocial(ctx context.Context, accountType, accountID string) (*User, error)
	CreateUser(ctx context.Context, input CreateUserInput) (*User, error)
	UpdateUser(ctx context.Context, id int64, update UserUpdate) (*User, error)
}

// AppProvider resolves OAuth clients.
type AppProvider interface {
	GetAppByClientID(ctx context.Context, clientID string) (*App, error)
}

// OrgProvider resolves orgs and memberships.
type OrgProvider interface {
	GetOrgBySlug(ctx context.Context, slug string) (*Org, error)
	ListUserOrgs(ctx context.Context, userID int64) ([]Org, error)
}

// ConsentProvider persists (user, app) consent rows.
type ConsentProvider interface {
	HasConsent(ctx context.Context, userID, appID int64) (bool, error)
	RecordConsent(ctx context.Context, userID, appID int64) error
}

// PasskeyProvider persists WebAuthn credentials.
type PasskeyProvider interface {
	ListPasskeys(ctx context.Context, userID int64) ([]PasskeyCredential, error)
	SavePasskey(ctx context.Context, userID int64, cred PasskeyCredential) error
	DeletePasskeys(ctx context.Context, userID int64) error
}

// RecoveryCodeProvider persists SHA-256 hashes of recovery codes.
type RecoveryCodeProvider interface {
	ReplaceRecoveryCodes(ctx context.Context, userID int64, hashes []string) error
	ConsumeRecoveryCode(ctx context.Context, userID int64, hash string) (bool, error)
	DeleteRecoveryCodes(ctx context.Context, userID int64) error
}

// Repository bundles every persistence interface. store/postgres
// implements it.
type Repository interface {
	UserProvider
	AppProvider
	OrgProvider
	ConsentProvider
	PasskeyProvider
	RecoveryCodeProvider
}

// EmailSender delivers HTML email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, htmlBody string) error
}

// SMSSender delivers text messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// SecurityReport is a read-only snapshot of the engine's security posture,
// returned by [Engine.SecurityReport].
type SecurityReport struct {
	ProductionMode        bool
	SigningAlgorithm      string
	AccessTTL             time.Duration
	RefreshTTL            time.Duration
	AuthCodeTTL           time.Duration
	SessionTTL            time.Duration
	SSOEnabled            bool
	RefreshRotation       bool
	Argon2                PasswordConfigReport
	SystemMfa             []MfaChannel
	EnforcedMfa           []MfaChannel
	RememberDeviceDays    int
	RecoveryCodesEnabled  bool
	PasskeysEnabled       bool
	ConsentEnabled        bool
	LoginLockoutActive    bool
	SmsSendLimitActive    bool
	PasswordResetActive   bool
	EmailVerificationSent bool
	SocialProviders       []string
}

// PasswordConfigReport contains the Argon2 parameters active in the engine.
type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// LogSink is an [AuditSink] that writes events as zap entries.
type LogSink = internalaudit.LogSink

// MultiSink fans an event out to several sinks in order.
type MultiSink = internalaudit.MultiSink

// NewLogSink creates a [LogSink] on logger. Failed events log at warn.
func NewLogSink(logger *zap.Logger) *LogSink {
	return internalaudit.NewLogSink(logger)
}

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// MetricID identifies a counter or histogram in the in-process metrics.
type MetricID = internalmetrics.MetricID

const (
	MetricAuthorizeRequest       = MetricID(internalmetrics.MetricAuthorizeRequest)
	MetricSessionShortcut        = MetricID(internalmetrics.MetricSessionShortcut)
	MetricPasswordSuccess        = MetricID(internalmetrics.MetricPasswordSuccess)
	MetricPasswordFailure        = MetricID(internalmetrics.MetricPasswordFailure)
	MetricLoginLocked            = MetricID(internalmetrics.MetricLoginLocked)
	MetricSignUp                 = MetricID(internalmetrics.MetricSignUp)
	MetricSocialSignIn           = MetricID(internalmetrics.MetricSocialSignIn)
	MetricPasskeySignIn          = MetricID(internalmetrics.MetricPasskeySignIn)
	MetricRecoveryCodeUsed       = MetricID(internalmetrics.MetricRecoveryCodeUsed)
	MetricMfaCodeSent            = MetricID(internalmetrics.MetricMfaCodeSent)
	MetricMfaSendLimited         = MetricID(internalmetrics.MetricMfaSendLimited)
	MetricMfaVerified            = MetricID(internalmetrics.MetricMfaVerified)
	MetricMfaFailure             = MetricID(internalmetrics.MetricMfaFailure)
	MetricMfaLocked              = MetricID(internalmetrics.MetricMfaLocked)
	MetricConsentGranted         = MetricID(internalmetrics.MetricConsentGranted)
	MetricPolicyCompleted        = MetricID(internalmetrics.MetricPolicyCompleted)
	MetricCodeExchangeSuccess    = MetricID(internalmetrics.MetricCodeExchangeSuccess)
	MetricCodeExchangeFailure    = MetricID(internalmetrics.MetricCodeExchangeFailure)
	MetricRefreshSuccess         = MetricID(internalmetrics.MetricRefreshSuccess)
	MetricRefreshFailure         = MetricID(internalmetrics.MetricRefreshFailure)
	MetricClientCredentials      = MetricID(internalmetrics.MetricClientCredentials)
	MetricClientAuthFailure      = MetricID(internalmetrics.MetricClientAuthFailure)
	MetricRevoke                 = MetricID(internalmetrics.MetricRevoke)
	MetricUserInfo               = MetricID(internalmetrics.MetricUserInfo)
	MetricLogout                 = MetricID(internalmetrics.MetricLogout)
	MetricPasswordResetRequest   = MetricID(internalmetrics.MetricPasswordResetRequest)
	MetricPasswordResetConfirm   = MetricID(internalmetrics.MetricPasswordResetConfirm)
	MetricEmailVerificationSent  = MetricID(internalmetrics.MetricEmailVerificationSent)
	MetricEmailVerified          = MetricID(internalmetrics.MetricEmailVerified)
	MetricTokenLatency           = MetricID(internalmetrics.MetricTokenLatency)

	metricIDCount = internalmetrics.MetricIDCount
)

// Metrics holds atomic counters and optional latency histograms.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time deep copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a [Metrics] instance configured by cfg. When Enabled
// is false, all operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Enabled,
		EnableLatency: cfg.EnableLatencyHistograms,
	})
}
