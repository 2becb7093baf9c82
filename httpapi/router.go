package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	goIdP "github.com/MrEthical07/goIdP"
	"github.com/MrEthical07/goIdP/session"
)

// Handler serves the engine over HTTP.
type Handler struct {
	engine   *goIdP.Engine
	sessions *session.Store
	devices  *session.DeviceCodec
	logger   *zap.Logger
	validate *validator.Validate
	limiter  *ipLimiter
	config   Config
}

// New wires a Handler. sessions and devices may be nil to disable SSO and
// remember-device cookies.
func New(engine *goIdP.Engine, sessions *session.Store, devices *session.DeviceCodec, logger *zap.Logger, cfg Config) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("httpapi: engine required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	limiter, err := newIPLimiter(cfg.RequestsPerMinute, cfg.Burst, cfg.LimiterCacheSize)
	if err != nil {
		return nil, err
	}
	return &Handler{
		engine:   engine,
		sessions: sessions,
		devices:  devices,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		limiter:  limiter,
		config:   cfg,
	}, nil
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if h.config.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.config.RequestTimeout))
	r.Use(h.limitBody)

	r.Get("/healthz", h.health)
	r.Get("/.well-known/openid-configuration", h.discovery)
	r.Get("/.well-known/jwks.json", h.jwks)

	r.Route("/oauth2/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.config.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
		r.Get("/authorize", h.authorize)
		r.With(h.limiter.middleware).Post("/token", h.token)
		r.Post("/revoke", h.revoke)
		r.Get("/userinfo", h.userInfo)
		r.Post("/userinfo", h.userInfo)
		r.Get("/logout", h.endSession)
		r.Post("/logout", h.endSession)
	})

	r.Route("/identity/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.config.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
		r.Use(h.limiter.middleware)

		r.Get("/authorize-auth-code-expired", h.authCodeExpired)

		// Credential steps start a flow from the authorize parameters.
		r.Post("/authorize-password", h.authorizePassword)
		r.Post("/authorize-account", h.authorizeAccount)
		r.Post("/authorize-social", h.authorizeSocial)
		r.Post("/authorize-recovery-code", h.authorizeRecoveryCode)
		r.Post("/authorize-passkey-options", h.passkeyLoginOptions)
		r.Post("/authorize-passkey", h.authorizePasskey)

		// MFA steps.
		r.Post("/authorize-mfa-enroll", h.mfaEnroll)
		r.Get("/authorize-otp-setup", h.otpSetup)
		r.Post("/authorize-otp-setup", h.verifyOtp)
		r.Post("/authorize-otp-mfa", h.verifyOtp)
		r.Post("/resend-email-mfa", h.sendEmailMfa)
		r.Post("/authorize-email-mfa", h.verifyEmailMfa)
		r.Get("/authorize-sms-setup", h.smsMfaInfo)
		r.Get("/authorize-sms-mfa", h.smsMfaInfo)
		r.Post("/setup-sms-mfa", h.setupSmsMfa)
		r.Post("/resend-sms-mfa", h.sendSmsMfa)
		r.Post("/authorize-sms-mfa", h.verifySmsMfa)
		r.Get("/authorize-passkey-enroll", h.passkeyEnrollOptions)
		r.Post("/authorize-passkey-enroll", h.passkeyEnroll)
		r.Post("/skip-passkey-enroll", h.skipPasskeyEnroll)

		r.Get("/authorize-consent", h.consentInfo)
		r.Post("/authorize-consent", h.consent)

		// Policy sub-flows.
		r.Post("/authorize-change-password", h.changePassword)
		r.Post("/change-email-code", h.sendChangeEmailCode)
		r.Post("/authorize-change-email", h.changeEmail)
		r.Post("/authorize-reset-mfa", h.resetMfa)
		r.Get("/authorize-switch-org", h.switchOrgInfo)
		r.Post("/authorize-switch-org", h.switchOrg)

		// Account maintenance.
		r.Post("/reset-code", h.requestPasswordReset)
		r.Post("/reset-password", h.resetPassword)
		r.Post("/verification-email", h.sendEmailVerification)
		r.Post("/verify-email", h.verifyEmail)
		r.Post("/logout", h.logout)
	})

	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			h.logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func (h *Handler) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
