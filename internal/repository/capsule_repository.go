package repository

import (
	"context"
	"errors"
	"time"

	"capsule-vault/internal/domain/capsule"
	capsule_errors "capsule-vault/pkg/errors"

	"gorm.io/gorm"
)

type GormCapsuleRepository struct {
	db *gorm.DB
}

func NewCapsuleRepository(db *gorm.DB) CapsuleRepository {
	return &GormCapsuleRepository{db: db}
}

func (r *GormCapsuleRepository) Create(ctx context.Context, c *capsule.Capsule) error {
	if len(c.Records) == 0 {
		return capsule_errors.ErrInvalidInput
	}
	c.PendingDownloads = len(c.Records)
	// Create persists the capsule row and its records in one transaction;
	// a capsule mid-creation is never observable.
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(c).Error
	})
}

func (r *GormCapsuleRepository) GetByID(ctx context.Context, id string) (capsule.Capsule, error) {
	var c capsule.Capsule
	err := r.db.WithContext(ctx).
		Preload("Records").
		First(&c, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return capsule.Capsule{}, capsule_errors.ErrNotFound
		}
		return capsule.Capsule{}, err
	}
	return c, nil
}

func (r *GormCapsuleRepository) ListForUser(ctx context.Context, userID string) ([]capsule.Capsule, error) {
	var capsules []capsule.Capsule
	err := r.db.WithContext(ctx).
		Joins("JOIN download_records ON download_records.capsule_id = capsules.id").
		Where("download_records.user_id = ?", userID).
		Order("capsules.upload_time DESC").
		Find(&capsules).Error
	if err != nil {
		return nil, err
	}
	return capsules, nil
}

func (r *GormCapsuleRepository) RecordDownload(ctx context.Context, capsuleID, userID string) (bool, error) {
	shouldDelete := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Model(&capsule.DownloadRecord{}).
			Where("capsule_id = ? AND user_id = ? AND downloaded = ?", capsuleID, userID, false).
			Updates(map[string]interface{}{
				"downloaded":    true,
				"download_time": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Either the record is already consumed (idempotent repeat) or it
			// never existed. Only the latter is an error.
			var n int64
			if err := tx.Model(&capsule.DownloadRecord{}).
				Where("capsule_id = ? AND user_id = ?", capsuleID, userID).
				Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return capsule_errors.ErrNotFound
			}
			return nil
		}

		// The decrement takes the capsule row lock, so concurrent downloaders
		// serialize here and exactly one of them drains the counter to zero.
		dec := tx.Model(&capsule.Capsule{}).
			Where("id = ?", capsuleID).
			Update("pending_downloads", gorm.Expr("pending_downloads - 1"))
		if dec.Error != nil {
			return dec.Error
		}
		if dec.RowsAffected == 0 {
			return capsule_errors.ErrNotFound
		}

		var c capsule.Capsule
		if err := tx.Select("pending_downloads").
			First(&c, "id = ?", capsuleID).Error; err != nil {
			return err
		}
		shouldDelete = c.PendingDownloads <= 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return shouldDelete, nil
}

func (r *GormCapsuleRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Records go first; not every backend enforces the cascade.
		if err := tx.Delete(&capsule.DownloadRecord{}, "capsule_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&capsule.Capsule{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return capsule_errors.ErrNotFound
		}
		return nil
	})
}

func (r *GormCapsuleRepository) ListExpired(ctx context.Context, before time.Time) ([]capsule.Capsule, error) {
	var capsules []capsule.Capsule
	err := r.db.WithContext(ctx).
		Where("expiry_time < ?", before).
		Order("expiry_time ASC").
		Find(&capsules).Error
	if err != nil {
		return nil, err
	}
	return capsules, nil
}
