// internal/app/system/tasks/jobs.go
package tasks

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// OAuthStateCleanupJob creates a job that removes expired OAuth state tokens.
func OAuthStateCleanupJob(db *mongo.Database, logger *zap.Logger) Job {
	return Job{
		Name:     "oauth-state-cleanup",
		Interval: 1 * time.Hour,
		Run: func(ctx context.Context) error {
			coll := db.Collection("oauth_states")
			result, err := coll.DeleteMany(ctx, bson.M{
				"expires_at": bson.M{"$lt": time.Now()},
			})
			if err != nil {
				return err
			}
			if result.DeletedCount > 0 {
				logger.Info("cleaned up expired oauth states",
					zap.Int64("deleted", result.DeletedCount))
			}
			return nil
		},
	}
}

// RateLimitCleanupJob creates a job that removes stale login rate-limit
// records. A record is stale once its last attempt is more than a day
// old and no lockout is pending.
func RateLimitCleanupJob(db *mongo.Database, logger *zap.Logger) Job {
	return Job{
		Name:     "rate-limit-cleanup",
		Interval: 6 * time.Hour,
		Run: func(ctx context.Context) error {
			coll := db.Collection("rate_limits")
			cutoff := time.Now().Add(-24 * time.Hour)
			result, err := coll.DeleteMany(ctx, bson.M{
				"last_attempt": bson.M{"$lt": cutoff},
				"$or": []bson.M{
					{"locked_until": nil},
					{"locked_until": bson.M{"$lt": time.Now()}},
				},
			})
			if err != nil {
				return err
			}
			if result.DeletedCount > 0 {
				logger.Info("cleaned up stale rate limit records",
					zap.Int64("deleted", result.DeletedCount))
			}
			return nil
		},
	}
}

// AuditRetentionJob creates a job that prunes audit events older than
// the retention window.
func AuditRetentionJob(db *mongo.Database, logger *zap.Logger, retention time.Duration) Job {
	return Job{
		Name:     "audit-retention",
		Interval: 24 * time.Hour,
		Run: func(ctx context.Context) error {
			coll := db.Collection("audit_logs")
			cutoff := time.Now().Add(-retention)
			result, err := coll.DeleteMany(ctx, bson.M{
				"created_at": bson.M{"$lt": cutoff},
			})
			if err != nil {
				return err
			}
			if result.DeletedCount > 0 {
				logger.Info("pruned old audit events",
					zap.Int64("deleted", result.DeletedCount),
					zap.Duration("retention", retention))
			}
			return nil
		},
	}
}
