// notification repository encapsulates the persistence of the announcement
// watermark, the single durable key of the SecondInning client.

package notification

import (
	"SecondInning/internal/errors"
	"SecondInning/pkg/db"
	"SecondInning/pkg/log"
	"context"

	"github.com/go-redis/redis/v8"
)

// The one persisted key. Marks the boundary between seen and unseen
// announcements, epoch millis, last-write-wins.
const watermarkKey = "last_seen_announcement"

type Repository interface {
	// GetWatermark reads the persisted last-seen announcement timestamp.
	// A missing key reads as 0 (nothing seen yet).
	GetWatermark(ctx context.Context, logger log.Logger) (int64, error)
	// SetWatermark persists the last-seen announcement timestamp.
	SetWatermark(ctx context.Context, logger log.Logger, ts int64) error
}

// repository struct of notification Repository.
// Helps to access the repository layer interface and call methods.
type repository struct {
	db *db.RedisDB
}

// Returns a new instance of notification repository for other packages to access its interface.
func NewRepository(dbwrp *db.RedisDB) Repository {
	return repository{db: dbwrp}
}

func (r repository) GetWatermark(ctx context.Context, logger log.Logger) (int64, error) {
	ts, dberr := r.db.Client().Get(ctx, watermarkKey).Int64()
	if dberr == redis.Nil {
		return 0, nil
	}
	if dberr != nil {
		logger.WithCtx(ctx).Error().Err(dberr).Msg("Error occured during execution of Get in notification.GetWatermark")
		return 0, errors.CollaboratorError("", dberr)
	}
	return ts, nil
}

func (r repository) SetWatermark(ctx context.Context, logger log.Logger, ts int64) error {
	dberr := r.db.Client().Set(ctx, watermarkKey, ts, 0).Err()
	if dberr != nil {
		logger.WithCtx(ctx).Error().Err(dberr).Msg("Error occured during execution of Set in notification.SetWatermark")
		return errors.CollaboratorError("", dberr)
	}
	return nil
}
