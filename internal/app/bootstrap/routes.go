// internal/app/bootstrap/routes.go
package bootstrap

import (
	"net/http"
	"time"

	adminapifeature "github.com/harmonyroom/harmonyroom/internal/app/features/adminapi"
	authapifeature "github.com/harmonyroom/harmonyroom/internal/app/features/authapi"
	authgooglefeature "github.com/harmonyroom/harmonyroom/internal/app/features/authgoogle"
	errorsfeature "github.com/harmonyroom/harmonyroom/internal/app/features/errors"
	groupsapifeature "github.com/harmonyroom/harmonyroom/internal/app/features/groupsapi"
	healthfeature "github.com/harmonyroom/harmonyroom/internal/app/features/health"
	libraryapifeature "github.com/harmonyroom/harmonyroom/internal/app/features/libraryapi"
	roomsapifeature "github.com/harmonyroom/harmonyroom/internal/app/features/roomsapi"
	statusfeature "github.com/harmonyroom/harmonyroom/internal/app/features/status"
	"github.com/harmonyroom/harmonyroom/internal/app/rooms"
	apistatsstore "github.com/harmonyroom/harmonyroom/internal/app/store/apistats"
	"github.com/harmonyroom/harmonyroom/internal/app/store/audit"
	ledgerstore "github.com/harmonyroom/harmonyroom/internal/app/store/ledger"
	"github.com/harmonyroom/harmonyroom/internal/app/store/oauthstate"
	"github.com/harmonyroom/harmonyroom/internal/app/store/ratelimit"
	userstore "github.com/harmonyroom/harmonyroom/internal/app/store/users"
	"github.com/harmonyroom/harmonyroom/internal/app/system/apistats"
	"github.com/harmonyroom/harmonyroom/internal/app/system/auditlog"
	"github.com/harmonyroom/harmonyroom/internal/app/system/auth"
	"github.com/harmonyroom/harmonyroom/internal/app/system/ledger"
	"github.com/harmonyroom/harmonyroom/internal/app/system/userdir"
	"github.com/harmonyroom/harmonyroom/internal/app/workspace"
	"github.com/dalemusser/waffle/config"
	"github.com/dalemusser/waffle/middleware"
	"github.com/dalemusser/waffle/pantry/fileserver"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// any Startup hooks have completed. At this point you have access to:
//   - coreCfg: WAFFLE core configuration (ports, env, timeouts, etc.)
//   - appCfg: app-specific configuration defined in AppConfig
//   - deps: any DB or backend clients bundled in DBDeps
//   - logger: the fully configured zap.Logger for this app
//
// The surface is JSON-only: every feature router speaks JSON and uses
// session cookie auth, except the recording webhook which authenticates
// with a shared API key. Each feature router applies its own CORS and
// session middleware so the mounts here stay declarative.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	// Create the session manager using app config.
	// Secure cookies are enabled in production mode.
	secure := coreCfg.Env == "prod"
	sessionMgr, err := auth.NewSessionManager(appCfg.SessionKey, appCfg.SessionName, appCfg.SessionDomain, appCfg.SessionMaxAge, secure, logger)
	if err != nil {
		logger.Error("session manager init failed", zap.Error(err))
		return nil, err
	}

	// Set up the UserFetcher so LoadSessionUser fetches fresh user data on each request.
	// This ensures role changes, disabled accounts, and profile updates take effect immediately.
	sessionMgr.SetUserFetcher(userstore.NewFetcher(deps.MongoDatabase, logger))

	// Create error logger for handlers.
	errLog := errorsfeature.NewErrorLogger(logger)

	// Create audit store and logger for security event tracking.
	auditStore := audit.New(deps.MongoDatabase)
	auditLogger := auditlog.New(auditStore, logger, auditlog.Config{
		Auth:      appCfg.AuditLogAuth,
		Admin:     appCfg.AuditLogAdmin,
		Group:     appCfg.AuditLogGroup,
		Workspace: appCfg.AuditLogWorkspace,
	})

	// Rate limiting for login attempts (nil if disabled).
	var rateLimitStore *ratelimit.Store
	if appCfg.RateLimitEnabled {
		rateLimitStore = ratelimit.New(
			deps.MongoDatabase,
			appCfg.RateLimitLoginAttempts,
			appCfg.RateLimitLoginWindow,
			appCfg.RateLimitLoginLockout,
		)
	}

	// API stats recorder for per-feature request metrics.
	apiStatsStore := apistatsstore.New(deps.MongoDatabase)
	apiStatsRecorder := apistats.NewRecorder(apiStatsStore, logger, appCfg.APIStatsBucket)

	// API error ledger: persists requests that end in status >= 400 so
	// client integration problems can be diagnosed after the fact.
	apiLedger := ledger.Middleware(ledger.Config{
		Store:          ledgerstore.New(deps.MongoDatabase),
		Logger:         logger,
		MaxBodyPreview: 500,
		HeadersToCapture: []string{
			"Content-Type",
			"Accept",
			"User-Agent",
			"X-Request-ID",
		},
		CaptureErrors: true,
	})

	// Shared domain services.
	workspaceSvc := workspace.New(deps.MongoDatabase, deps.BlobStorage, logger)
	roomRegistry := rooms.NewRegistry()
	directory := userdir.New(userstore.New(deps.MongoDatabase), logger)

	r := chi.NewRouter()

	// ─────────────────────────────────────────────────────────────────────────
	// Global Middleware (applies to ALL routes)
	// ─────────────────────────────────────────────────────────────────────────

	// Request timeout middleware: prevents requests from hanging indefinitely.
	r.Use(chimw.Timeout(30 * time.Second))

	// CORS middleware: must be early in the chain to handle preflight requests.
	r.Use(middleware.CORSFromConfig(coreCfg))

	// Security headers middleware: adds X-Frame-Options, X-Content-Type-Options, etc.
	r.Use(middleware.SecurityHeadersFromConfig(coreCfg))

	// ─────────────────────────────────────────────────────────────────────────
	// Routes
	// ─────────────────────────────────────────────────────────────────────────

	// Health check endpoints for load balancers and orchestrators.
	healthHandler := healthfeature.NewHandler(deps.MongoClient, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))
	healthfeature.MountRootEndpoints(r, healthHandler)

	// Uploaded blobs (local storage only). S3 storage serves directly
	// from the bucket or CloudFront.
	if appCfg.StorageType == "local" || appCfg.StorageType == "" {
		r.Handle(appCfg.StorageLocalURL+"/*", fileserver.Handler(appCfg.StorageLocalURL, appCfg.StorageLocalPath))
	}

	// Authentication.
	authHandler := authapifeature.NewHandler(deps.MongoDatabase, sessionMgr, rateLimitStore, auditLogger, logger)
	r.Route("/auth", func(ar chi.Router) {
		ar.Use(apiLedger)

		// Google OAuth (only mounted if configured).
		if appCfg.GoogleClientID != "" && appCfg.GoogleClientSecret != "" {
			googleHandler := authgooglefeature.NewHandler(
				deps.MongoDatabase,
				sessionMgr,
				errLog,
				auditLogger,
				oauthstate.New(deps.MongoDatabase),
				appCfg.GoogleClientID,
				appCfg.GoogleClientSecret,
				appCfg.BaseURL,
				logger,
			)
			ar.Mount("/google", authgooglefeature.Routes(googleHandler))
			logger.Info("google oauth enabled", zap.String("redirect_url", appCfg.BaseURL+"/auth/google/callback"))
		}

		ar.With(apistats.MiddlewareWithRecorder(apiStatsRecorder, apistatsstore.StatTypeAuth)).
			Mount("/", authapifeature.Routes(authHandler))
	})

	// Groups, membership, and the per-group library.
	groupsHandler := groupsapifeature.NewHandler(deps.MongoDatabase, workspaceSvc, directory, auditLogger, logger)
	libraryHandler := libraryapifeature.NewHandler(deps.MongoDatabase, workspaceSvc, auditLogger, logger)
	libraryRouter := apistats.MiddlewareWithRecorder(apiStatsRecorder, apistatsstore.StatTypeLibrary)(
		libraryapifeature.Routes(libraryHandler),
	)
	r.Route("/groups", func(gr chi.Router) {
		gr.Use(apiLedger)
		gr.Use(apistats.MiddlewareWithRecorder(apiStatsRecorder, apistatsstore.StatTypeGroups))
		gr.Mount("/", groupsapifeature.Routes(groupsHandler, sessionMgr, libraryRouter))
	})

	// Meeting rooms: ephemeral presence, recording listing, and the
	// recorder's upload-complete webhook.
	roomsHandler := roomsapifeature.NewHandler(deps.MongoDatabase, roomRegistry, deps.BlobStorage, logger)
	r.Route("/rooms", func(rr chi.Router) {
		rr.Use(apiLedger)
		rr.Use(apistats.MiddlewareWithRecorder(apiStatsRecorder, apistatsstore.StatTypeRooms))
		rr.Mount("/", roomsapifeature.Routes(roomsHandler, sessionMgr, appCfg.WebhookAPIKey, logger))
	})

	// Platform admin: user management and system status.
	adminHandler := adminapifeature.NewHandler(deps.MongoDatabase, auditLogger, logger)
	r.Route("/admin", func(adr chi.Router) {
		adr.Use(apiLedger)
		adr.Mount("/users", adminapifeature.Routes(adminHandler, sessionMgr))

		statusHandler := statusfeature.NewHandler(deps.MongoClient, appCfg.BaseURL, coreCfg, statusAppConfig(appCfg), logger)
		adr.Mount("/status", statusfeature.Routes(statusHandler, sessionMgr))
	})

	// 404 catch-all for unmatched routes.
	errorsHandler := errorsfeature.NewHandler()
	r.NotFound(errorsHandler.NotFound)

	return r, nil
}

// statusAppConfig projects AppConfig into the status feature's display
// config.
func statusAppConfig(appCfg AppConfig) statusfeature.AppConfig {
	return statusfeature.AppConfig{
		MongoURI:         appCfg.MongoURI,
		MongoDatabase:    appCfg.MongoDatabase,
		MongoMaxPoolSize: appCfg.MongoMaxPoolSize,
		MongoMinPoolSize: appCfg.MongoMinPoolSize,

		SessionKey:    appCfg.SessionKey,
		SessionName:   appCfg.SessionName,
		SessionDomain: appCfg.SessionDomain,
		SessionMaxAge: appCfg.SessionMaxAge,

		RateLimitEnabled:       appCfg.RateLimitEnabled,
		RateLimitLoginAttempts: appCfg.RateLimitLoginAttempts,
		RateLimitLoginWindow:   appCfg.RateLimitLoginWindow,
		RateLimitLoginLockout:  appCfg.RateLimitLoginLockout,

		WebhookAPIKey: appCfg.WebhookAPIKey,

		StorageType:        appCfg.StorageType,
		StorageLocalPath:   appCfg.StorageLocalPath,
		StorageLocalURL:    appCfg.StorageLocalURL,
		StorageS3Region:    appCfg.StorageS3Region,
		StorageS3Bucket:    appCfg.StorageS3Bucket,
		StorageS3Prefix:    appCfg.StorageS3Prefix,
		StorageCFURL:       appCfg.StorageCFURL,
		StorageCFKeyPairID: appCfg.StorageCFKeyPairID,
		StorageCFKeyPath:   appCfg.StorageCFKeyPath,

		BaseURL: appCfg.BaseURL,

		AuditLogAuth:      appCfg.AuditLogAuth,
		AuditLogAdmin:     appCfg.AuditLogAdmin,
		AuditLogGroup:     appCfg.AuditLogGroup,
		AuditLogWorkspace: appCfg.AuditLogWorkspace,

		GoogleClientID:     appCfg.GoogleClientID,
		GoogleClientSecret: appCfg.GoogleClientSecret,

		SeedAdminEmail: appCfg.SeedAdminEmail,
		SeedAdminName:  appCfg.SeedAdminName,

		APIStatsBucket: appCfg.APIStatsBucket,
	}
}
