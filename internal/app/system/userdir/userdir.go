// Package userdir resolves user IDs to display profiles for membership
// listings. Lookups run under a bounded timeout; when the users collection
// is slow or unavailable the directory degrades to bare-ID entries instead
// of failing the listing.
package userdir

import (
	"context"

	"github.com/harmonyroom/harmonyroom/internal/app/system/timeouts"
	userstore "github.com/harmonyroom/harmonyroom/internal/app/store/users"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Profile is the display projection of one user.
type Profile struct {
	UserID   primitive.ObjectID `json:"user_id"`
	FullName string             `json:"full_name"`
	Email    string             `json:"email,omitempty"`
}

// Directory resolves user profiles in bulk.
type Directory struct {
	users  *userstore.Store
	logger *zap.Logger
}

func New(users *userstore.Store, logger *zap.Logger) *Directory {
	return &Directory{users: users, logger: logger}
}

// Lookup resolves the given user IDs to profiles. The result always has one
// entry per requested ID: users that cannot be resolved (deleted accounts, or
// the whole lookup timing out) come back with an empty FullName so callers
// can still render the membership row.
func (d *Directory) Lookup(ctx context.Context, ids []primitive.ObjectID) map[primitive.ObjectID]Profile {
	out := make(map[primitive.ObjectID]Profile, len(ids))
	for _, id := range ids {
		out[id] = Profile{UserID: id}
	}
	if len(ids) == 0 {
		return out
	}

	lctx, cancel := context.WithTimeout(ctx, timeouts.Short())
	defer cancel()

	users, err := d.users.GetByIDs(lctx, ids)
	if err != nil {
		d.logger.Warn("user directory lookup failed; returning bare entries",
			zap.Int("requested", len(ids)),
			zap.Error(err))
		return out
	}

	for _, u := range users {
		p := Profile{UserID: u.ID, FullName: u.FullName}
		if u.Email != nil {
			p.Email = *u.Email
		}
		out[u.ID] = p
	}
	return out
}
