// internal/app/bootstrap/startup.go
package bootstrap

// Terminology: User Identifiers
//   - UserID / userID / user_id: The MongoDB ObjectID (_id) that uniquely identifies a user record
//   - LoginID / loginID / login_id: The human-readable string users type to log in

import (
	"context"
	"strings"
	"time"

	"github.com/dalemusser/waffle/config"
	"github.com/dalemusser/waffle/pantry/text"
	"github.com/harmonyroom/harmonyroom/internal/app/system/tasks"
	"github.com/harmonyroom/harmonyroom/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Startup runs once after DB connections and schema/index setup are
// complete, but before the HTTP handler is built and requests are
// served.
//
// Returning a non-nil error will abort startup and prevent the server
// from starting. The context will be cancelled if the process is asked
// to shut down while Startup is running; honor it in any long-running
// work.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	// Seed admin user if configured
	if appCfg.SeedAdminEmail != "" {
		if err := ensureAdminUser(ctx, deps, appCfg.SeedAdminEmail, appCfg.SeedAdminName, logger); err != nil {
			logger.Error("failed to seed admin user", zap.Error(err))
			return err
		}
	}

	// Start background cleanup jobs
	startTaskRunner(deps.MongoDatabase, logger)

	return nil
}

// taskRunner is the global task runner instance, used for graceful shutdown.
var taskRunner *tasks.Runner

// startTaskRunner initializes and starts the background task runner.
// TTL indexes already expire oauth_states and rate_limits; these jobs
// are the backstop for deployments where TTL monitors lag or are
// disabled.
func startTaskRunner(db *mongo.Database, logger *zap.Logger) {
	taskRunner = tasks.New(logger)

	taskRunner.Register(tasks.OAuthStateCleanupJob(db, logger))
	taskRunner.Register(tasks.RateLimitCleanupJob(db, logger))

	// Keep the audit trail bounded; a year of history is plenty.
	taskRunner.Register(tasks.AuditRetentionJob(db, logger, 365*24*time.Hour))

	taskRunner.Start()
}

// ensureAdminUser ensures a platform admin exists with the given email.
// If a user exists with this email, ensure they have the admin role.
// If no user exists, create one. The seeded admin signs in with Google,
// so no password is set.
func ensureAdminUser(ctx context.Context, deps DBDeps, email string, name string, logger *zap.Logger) error {
	coll := deps.MongoDatabase.Collection("users")

	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" {
		name = "Admin"
	}

	var existing models.User
	err := coll.FindOne(ctx, bson.M{"email": email}).Decode(&existing)

	if err == nil {
		if existing.PlatformRole == models.PlatformAdmin {
			logger.Debug("admin user already configured", zap.String("email", email))
			return nil
		}

		_, err = coll.UpdateByID(ctx, existing.ID, bson.M{
			"$set": bson.M{
				"platform_role": models.PlatformAdmin,
				"updated_at":    time.Now().UTC(),
			},
		})
		if err != nil {
			return err
		}
		logger.Info("promoted existing user to platform admin",
			zap.String("email", email),
			zap.String("user_id", existing.ID.Hex()),
			zap.String("previous_role", existing.PlatformRole))
		return nil
	}

	if err != mongo.ErrNoDocuments {
		return err
	}

	now := time.Now().UTC()
	admin := models.User{
		ID:           primitive.NewObjectID(),
		FullName:     name,
		FullNameCI:   text.Fold(name),
		Email:        &email,
		LoginID:      &email,
		LoginIDCI:    ptrString(text.Fold(email)),
		AuthMethod:   "google",
		PlatformRole: models.PlatformAdmin,
		Status:       "active",
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err := coll.InsertOne(ctx, admin); err != nil {
		return err
	}

	logger.Info("created platform admin user",
		zap.String("email", email),
		zap.String("user_id", admin.ID.Hex()))
	return nil
}

func ptrString(s string) *string {
	return &s
}
