package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"social-go/internal/models"
)

// FriendshipMirrorRepository defines the interface for the durability mirror
// of friendship state. Writes come exclusively from the Kafka event consumer;
// reads serve audit queries and the session-time friends count, never live
// status.
type FriendshipMirrorRepository interface {
	Upsert(ctx context.Context, mirror *models.FriendshipMirror) error
	DeleteByPairKey(ctx context.Context, pairKey string) error
	GetByPairKey(ctx context.Context, pairKey string) (*models.FriendshipMirror, error)
	GetFriendIDs(ctx context.Context, userID uint) ([]uint, error)
	CountFriends(ctx context.Context, userID uint) (int64, error)
}

type gormFriendshipMirrorRepository struct {
	db *gorm.DB
}

// NewGormFriendshipMirrorRepository creates a new GORM-based FriendshipMirrorRepository.
func NewGormFriendshipMirrorRepository(db *gorm.DB) FriendshipMirrorRepository {
	return &gormFriendshipMirrorRepository{db: db}
}

// Upsert writes the mirror row keyed by pair key. Events can be replayed by
// the consumer, so the write must be idempotent: on conflict the status and
// timestamps are overwritten with the newer event's view.
func (r *gormFriendshipMirrorRepository) Upsert(ctx context.Context, mirror *models.FriendshipMirror) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "pair_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user1_id", "user2_id", "status", "requested_by",
			"accepted_at", "rejected_at", "updated_at", "deleted_at",
		}),
	}).Create(mirror).Error
}

// DeleteByPairKey soft-deletes the mirror row for a cancelled or removed pair.
func (r *gormFriendshipMirrorRepository) DeleteByPairKey(ctx context.Context, pairKey string) error {
	return r.db.WithContext(ctx).Where("pair_key = ?", pairKey).Delete(&models.FriendshipMirror{}).Error
}

// GetByPairKey retrieves the mirror row for a pair, nil if absent.
func (r *gormFriendshipMirrorRepository) GetByPairKey(ctx context.Context, pairKey string) (*models.FriendshipMirror, error) {
	var mirror models.FriendshipMirror
	err := r.db.WithContext(ctx).Where("pair_key = ?", pairKey).First(&mirror).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &mirror, nil
}

// GetFriendIDs retrieves the IDs of all accepted friends of the given user.
func (r *gormFriendshipMirrorRepository) GetFriendIDs(ctx context.Context, userID uint) ([]uint, error) {
	// The user can sit on either side of the pair, so two Plucks are needed.
	var idsPart1 []uint
	err := r.db.WithContext(ctx).Model(&models.FriendshipMirror{}).
		Where("user1_id = ? AND status = ?", userID, models.FriendshipStatusAccepted).
		Pluck("user2_id", &idsPart1).Error
	if err != nil {
		return nil, err
	}

	var idsPart2 []uint
	err = r.db.WithContext(ctx).Model(&models.FriendshipMirror{}).
		Where("user2_id = ? AND status = ?", userID, models.FriendshipStatusAccepted).
		Pluck("user1_id", &idsPart2).Error
	if err != nil {
		return nil, err
	}

	return append(idsPart1, idsPart2...), nil
}

// CountFriends counts the accepted friendships of the given user.
func (r *gormFriendshipMirrorRepository) CountFriends(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.FriendshipMirror{}).
		Where("(user1_id = ? OR user2_id = ?) AND status = ?", userID, userID, models.FriendshipStatusAccepted).
		Count(&count).Error
	return count, err
}
