// internal/app/features/status/handler.go

// Package status serves the admin system-status endpoint: database
// health, runtime stats, TLS certificate state, and the effective
// (secret-masked) configuration.
package status

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/harmonyroom/harmonyroom/internal/app/system/certcheck"
	"github.com/harmonyroom/harmonyroom/internal/app/system/jsonutil"
	"github.com/harmonyroom/harmonyroom/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	"github.com/dalemusser/waffle/server"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

var startTime = time.Now()

// Handler holds dependencies for the status endpoint.
type Handler struct {
	Client  *mongo.Client
	BaseURL string
	Log     *zap.Logger
	CoreCfg *config.CoreConfig
	AppCfg  AppConfig
}

// AppConfig mirrors bootstrap.AppConfig for status display.
type AppConfig struct {
	// MongoDB
	MongoURI         string
	MongoDatabase    string
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// Session
	SessionKey    string
	SessionName   string
	SessionDomain string
	SessionMaxAge time.Duration

	// Rate Limiting
	RateLimitEnabled       bool
	RateLimitLoginAttempts int
	RateLimitLoginWindow   time.Duration
	RateLimitLoginLockout  time.Duration

	// Recording webhook
	WebhookAPIKey string

	// Storage
	StorageType        string
	StorageLocalPath   string
	StorageLocalURL    string
	StorageS3Region    string
	StorageS3Bucket    string
	StorageS3Prefix    string
	StorageCFURL       string
	StorageCFKeyPairID string
	StorageCFKeyPath   string

	BaseURL string

	// Audit
	AuditLogAuth      string
	AuditLogAdmin     string
	AuditLogGroup     string
	AuditLogWorkspace string

	// Google OAuth
	GoogleClientID     string
	GoogleClientSecret string

	// Admin seeding
	SeedAdminEmail string
	SeedAdminName  string

	// API stats
	APIStatsBucket time.Duration
}

// NewHandler creates a new status Handler.
func NewHandler(client *mongo.Client, baseURL string, coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) *Handler {
	return &Handler{
		Client:  client,
		BaseURL: baseURL,
		CoreCfg: coreCfg,
		AppCfg:  appCfg,
		Log:     logger,
	}
}

// ConfigItem is a single configuration variable for display.
type ConfigItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ConfigGroup is a logical group of configuration items.
type ConfigGroup struct {
	Name  string       `json:"name"`
	Items []ConfigItem `json:"items"`
}

type certStatus struct {
	Host          string `json:"host"`
	Valid         bool   `json:"valid"`
	Error         string `json:"error,omitempty"`
	Issuer        string `json:"issuer,omitempty"`
	ExpiresAt     string `json:"expires_at,omitempty"`
	ExpiresIn     string `json:"expires_in,omitempty"`
	DaysLeft      int    `json:"days_left"`
	Warning       bool   `json:"warning"`
	CanRenew      bool   `json:"can_renew"`
	ChallengeType string `json:"challenge_type,omitempty"`
}

type databaseStatus struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
	PingMS    int64  `json:"ping_ms"`
	Version   string `json:"version,omitempty"`
}

type runtimeStatus struct {
	GoVersion  string `json:"go_version"`
	Uptime     string `json:"uptime"`
	Goroutines int    `json:"goroutines"`
	MemAlloc   string `json:"mem_alloc"`
}

type statusView struct {
	Database databaseStatus `json:"database"`
	Runtime  runtimeStatus  `json:"runtime"`
	Cert     *certStatus    `json:"cert,omitempty"`
	Config   []ConfigGroup  `json:"config"`
}

// Serve handles GET /admin/status.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	view := statusView{
		Runtime: runtimeStatus{
			GoVersion:  runtime.Version(),
			Uptime:     formatDuration(time.Since(startTime)),
			Goroutines: runtime.NumGoroutine(),
			MemAlloc:   formatBytes(m.Alloc),
		},
	}

	pingStart := time.Now()
	if err := h.Client.Ping(ctx, readpref.Primary()); err != nil {
		view.Database.Error = err.Error()
		h.Log.Warn("status: database ping failed", zap.Error(err))
	} else {
		view.Database.Connected = true
		view.Database.PingMS = time.Since(pingStart).Milliseconds()

		var result bson.M
		if err := h.Client.Database("admin").RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).Decode(&result); err == nil {
			if version, ok := result["version"].(string); ok {
				view.Database.Version = version
			}
		}
	}

	if h.BaseURL != "" {
		certInfo := certcheck.Check(h.BaseURL)
		cert := &certStatus{
			Host:     certInfo.Host,
			Valid:    certInfo.IsValid,
			Error:    certInfo.Error,
			Issuer:   certInfo.Issuer,
			DaysLeft: certInfo.DaysLeft,
		}
		if !certInfo.ExpiresAt.IsZero() {
			cert.ExpiresAt = certInfo.ExpiresAt.Format(time.RFC3339)
			cert.ExpiresIn = formatExpiresIn(time.Until(certInfo.ExpiresAt))
		}
		cert.Warning = certInfo.DaysLeft > 0 && certInfo.DaysLeft <= 14
		if renewer := server.GetCertRenewer(); renewer != nil {
			cert.CanRenew = true
			cert.ChallengeType = renewer.ChallengeType()
		}
		view.Cert = cert
	}

	view.Config = h.buildConfigGroups()

	jsonutil.OK(w, view)
}

// HandleRenew handles POST /admin/status/renew to force certificate renewal.
func (h *Handler) HandleRenew(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	renewer := server.GetCertRenewer()
	if renewer == nil {
		jsonutil.BadRequest(w, "certificate renewal not available")
		return
	}

	h.Log.Info("forcing certificate renewal",
		zap.String("challenge_type", renewer.ChallengeType()))

	newExpiry, err := renewer.ForceRenewal(ctx)
	if err != nil {
		h.Log.Error("certificate renewal failed", zap.Error(err))
		jsonutil.InternalError(w, "renewal failed: "+err.Error())
		return
	}

	h.Log.Info("certificate renewal succeeded",
		zap.Time("new_expiry", newExpiry))

	jsonutil.OK(w, map[string]string{"new_expiry": newExpiry.Format(time.RFC3339)})
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return formatPlural(days, "day") + " " + formatPlural(hours, "hour")
	}
	if hours > 0 {
		return formatPlural(hours, "hour") + " " + formatPlural(minutes, "min")
	}
	return formatPlural(minutes, "min")
}

// formatExpiresIn formats time until expiration with days, hours, and minutes.
func formatExpiresIn(d time.Duration) string {
	if d < 0 {
		return "expired"
	}
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	return formatPlural(days, "day") + ", " + formatPlural(hours, "hour") + ", " + formatPlural(minutes, "minute")
}

func formatPlural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// formatBytes formats bytes in a human-readable way.
func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

// buildConfigGroups creates organized groups of config items for display.
func (h *Handler) buildConfigGroups() []ConfigGroup {
	groups := []ConfigGroup{}

	// Helper to mask sensitive values
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		if len(s) <= 4 {
			return "****"
		}
		return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
	}

	join := func(s []string) string {
		if len(s) == 0 {
			return ""
		}
		return strings.Join(s, ", ")
	}

	boolStr := func(b bool) string {
		if b {
			return "true"
		}
		return "false"
	}

	if h.CoreCfg != nil {
		groups = append(groups, ConfigGroup{
			Name: "Environment",
			Items: []ConfigItem{
				{Name: "env", Value: h.CoreCfg.Env},
				{Name: "log_level", Value: h.CoreCfg.LogLevel},
			},
		})

		groups = append(groups, ConfigGroup{
			Name: "HTTP Server",
			Items: []ConfigItem{
				{Name: "http_port", Value: fmt.Sprintf("%d", h.CoreCfg.HTTP.HTTPPort)},
				{Name: "https_port", Value: fmt.Sprintf("%d", h.CoreCfg.HTTP.HTTPSPort)},
				{Name: "use_https", Value: boolStr(h.CoreCfg.HTTP.UseHTTPS)},
				{Name: "read_timeout", Value: h.CoreCfg.HTTP.ReadTimeout.String()},
				{Name: "read_header_timeout", Value: h.CoreCfg.HTTP.ReadHeaderTimeout.String()},
				{Name: "write_timeout", Value: h.CoreCfg.HTTP.WriteTimeout.String()},
				{Name: "idle_timeout", Value: h.CoreCfg.HTTP.IdleTimeout.String()},
				{Name: "shutdown_timeout", Value: h.CoreCfg.HTTP.ShutdownTimeout.String()},
				{Name: "max_request_body_bytes", Value: fmt.Sprintf("%d", h.CoreCfg.MaxRequestBodyBytes)},
				{Name: "enable_compression", Value: boolStr(h.CoreCfg.EnableCompression)},
				{Name: "compression_level", Value: fmt.Sprintf("%d", h.CoreCfg.CompressionLevel)},
			},
		})

		groups = append(groups, ConfigGroup{
			Name: "TLS/SSL",
			Items: []ConfigItem{
				{Name: "cert_file", Value: h.CoreCfg.TLS.CertFile},
				{Name: "key_file", Value: h.CoreCfg.TLS.KeyFile},
				{Name: "use_lets_encrypt", Value: boolStr(h.CoreCfg.TLS.UseLetsEncrypt)},
				{Name: "lets_encrypt_email", Value: h.CoreCfg.TLS.LetsEncryptEmail},
				{Name: "lets_encrypt_cache_dir", Value: h.CoreCfg.TLS.LetsEncryptCacheDir},
				{Name: "lets_encrypt_challenge", Value: h.CoreCfg.TLS.LetsEncryptChallenge},
				{Name: "domain", Value: h.CoreCfg.TLS.Domain},
				{Name: "domains", Value: join(h.CoreCfg.TLS.Domains)},
				{Name: "route53_hosted_zone_id", Value: h.CoreCfg.TLS.Route53HostedZoneID},
				{Name: "acme_directory_url", Value: h.CoreCfg.TLS.ACMEDirectoryURL},
			},
		})

		groups = append(groups, ConfigGroup{
			Name: "CORS",
			Items: []ConfigItem{
				{Name: "enable_cors", Value: boolStr(h.CoreCfg.CORS.EnableCORS)},
				{Name: "cors_allowed_origins", Value: join(h.CoreCfg.CORS.CORSAllowedOrigins)},
				{Name: "cors_allowed_methods", Value: join(h.CoreCfg.CORS.CORSAllowedMethods)},
				{Name: "cors_allowed_headers", Value: join(h.CoreCfg.CORS.CORSAllowedHeaders)},
				{Name: "cors_exposed_headers", Value: join(h.CoreCfg.CORS.CORSExposedHeaders)},
				{Name: "cors_allow_credentials", Value: boolStr(h.CoreCfg.CORS.CORSAllowCredentials)},
				{Name: "cors_max_age", Value: fmt.Sprintf("%d", h.CoreCfg.CORS.CORSMaxAge)},
			},
		})
	}

	dbItems := []ConfigItem{
		{Name: "mongo_uri", Value: mask(h.AppCfg.MongoURI)},
		{Name: "mongo_database", Value: h.AppCfg.MongoDatabase},
		{Name: "mongo_max_pool_size", Value: fmt.Sprintf("%d", h.AppCfg.MongoMaxPoolSize)},
		{Name: "mongo_min_pool_size", Value: fmt.Sprintf("%d", h.AppCfg.MongoMinPoolSize)},
	}
	if h.CoreCfg != nil {
		dbItems = append(dbItems,
			ConfigItem{Name: "db_connect_timeout", Value: h.CoreCfg.DBConnectTimeout.String()},
			ConfigItem{Name: "index_boot_timeout", Value: h.CoreCfg.IndexBootTimeout.String()},
		)
	}
	groups = append(groups, ConfigGroup{Name: "Database", Items: dbItems})

	groups = append(groups, ConfigGroup{
		Name: "Session & Security",
		Items: []ConfigItem{
			{Name: "session_key", Value: mask(h.AppCfg.SessionKey)},
			{Name: "session_name", Value: h.AppCfg.SessionName},
			{Name: "session_domain", Value: h.AppCfg.SessionDomain},
			{Name: "session_max_age", Value: h.AppCfg.SessionMaxAge.String()},
			{Name: "rate_limit_enabled", Value: boolStr(h.AppCfg.RateLimitEnabled)},
			{Name: "rate_limit_login_attempts", Value: fmt.Sprintf("%d", h.AppCfg.RateLimitLoginAttempts)},
			{Name: "rate_limit_login_window", Value: h.AppCfg.RateLimitLoginWindow.String()},
			{Name: "rate_limit_login_lockout", Value: h.AppCfg.RateLimitLoginLockout.String()},
			{Name: "webhook_api_key", Value: mask(h.AppCfg.WebhookAPIKey)},
		},
	})

	groups = append(groups, ConfigGroup{
		Name: "Storage",
		Items: []ConfigItem{
			{Name: "storage_type", Value: h.AppCfg.StorageType},
			{Name: "storage_local_path", Value: h.AppCfg.StorageLocalPath},
			{Name: "storage_local_url", Value: h.AppCfg.StorageLocalURL},
			{Name: "storage_s3_region", Value: h.AppCfg.StorageS3Region},
			{Name: "storage_s3_bucket", Value: h.AppCfg.StorageS3Bucket},
			{Name: "storage_s3_prefix", Value: h.AppCfg.StorageS3Prefix},
			{Name: "storage_cf_url", Value: h.AppCfg.StorageCFURL},
			{Name: "storage_cf_keypair_id", Value: h.AppCfg.StorageCFKeyPairID},
			{Name: "storage_cf_key_path", Value: h.AppCfg.StorageCFKeyPath},
		},
	})

	groups = append(groups, ConfigGroup{
		Name: "Authentication",
		Items: []ConfigItem{
			{Name: "base_url", Value: h.AppCfg.BaseURL},
			{Name: "google_client_id", Value: mask(h.AppCfg.GoogleClientID)},
			{Name: "google_client_secret", Value: mask(h.AppCfg.GoogleClientSecret)},
		},
	})

	groups = append(groups, ConfigGroup{
		Name: "Audit Logging",
		Items: []ConfigItem{
			{Name: "audit_log_auth", Value: h.AppCfg.AuditLogAuth},
			{Name: "audit_log_admin", Value: h.AppCfg.AuditLogAdmin},
			{Name: "audit_log_group", Value: h.AppCfg.AuditLogGroup},
			{Name: "audit_log_workspace", Value: h.AppCfg.AuditLogWorkspace},
		},
	})

	groups = append(groups, ConfigGroup{
		Name: "Admin Seeding",
		Items: []ConfigItem{
			{Name: "seed_admin_email", Value: h.AppCfg.SeedAdminEmail},
			{Name: "seed_admin_name", Value: h.AppCfg.SeedAdminName},
		},
	})

	groups = append(groups, ConfigGroup{
		Name: "API Stats",
		Items: []ConfigItem{
			{Name: "api_stats_bucket", Value: h.AppCfg.APIStatsBucket.String()},
		},
	})

	return groups
}
