// Package repository implements the data access layer for the local ledger.
package repository

import (
	"context"
	"errors"
	"time"

	"locbot/internal/models"
	"locbot/internal/observability"
	appmodels "locbot/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const approvedLocationsTable = "approved_locations"

// LocationRepository defines persistence operations for approved locations.
type LocationRepository interface {
	Record(ctx context.Context, loc *models.ApprovedLocation) error
	GetByID(ctx context.Context, id string) (*models.ApprovedLocation, error)
	List(ctx context.Context) ([]models.ApprovedLocation, error)
	ListUnpublished(ctx context.Context) ([]models.ApprovedLocation, error)
	MarkPublished(ctx context.Context, ids []string, at time.Time) error
	CountUnpublished(ctx context.Context) (int64, error)
}

type locationRepository struct {
	db *gorm.DB
}

// NewLocationRepository returns a new LocationRepository implementation.
func NewLocationRepository(db *gorm.DB) LocationRepository {
	return &locationRepository{db: db}
}

// Record stores an approval. Recording the same location twice is a no-op.
func (r *locationRepository) Record(ctx context.Context, loc *models.ApprovedLocation) error {
	defer observability.TrackQuery("record", approvedLocationsTable)()

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(loc).Error
	if err != nil {
		return appmodels.NewInternalError(err)
	}
	return nil
}

func (r *locationRepository) GetByID(ctx context.Context, id string) (*models.ApprovedLocation, error) {
	defer observability.TrackQuery("get", approvedLocationsTable)()

	var loc models.ApprovedLocation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&loc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appmodels.NewNotFoundError("Location", id)
		}
		return nil, appmodels.NewInternalError(err)
	}
	return &loc, nil
}

// List returns every approval in approval order.
func (r *locationRepository) List(ctx context.Context) ([]models.ApprovedLocation, error) {
	defer observability.TrackQuery("list", approvedLocationsTable)()

	var locs []models.ApprovedLocation
	if err := r.db.WithContext(ctx).Order("approved_at ASC").Find(&locs).Error; err != nil {
		return nil, appmodels.NewInternalError(err)
	}
	return locs, nil
}

// ListUnpublished returns approvals not yet confirmed in the shared document.
func (r *locationRepository) ListUnpublished(ctx context.Context) ([]models.ApprovedLocation, error) {
	defer observability.TrackQuery("list_unpublished", approvedLocationsTable)()

	var locs []models.ApprovedLocation
	err := r.db.WithContext(ctx).
		Where("published_at IS NULL").
		Order("approved_at ASC").
		Find(&locs).Error
	if err != nil {
		return nil, appmodels.NewInternalError(err)
	}
	return locs, nil
}

// MarkPublished stamps the first publish time on the given locations.
func (r *locationRepository) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	defer observability.TrackQuery("mark_published", approvedLocationsTable)()

	err := r.db.WithContext(ctx).
		Model(&models.ApprovedLocation{}).
		Where("id IN ?", ids).
		Where("published_at IS NULL").
		Update("published_at", at).Error
	if err != nil {
		return appmodels.NewInternalError(err)
	}
	return nil
}

func (r *locationRepository) CountUnpublished(ctx context.Context) (int64, error) {
	defer observability.TrackQuery("count_unpublished", approvedLocationsTable)()

	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.ApprovedLocation{}).
		Where("published_at IS NULL").
		Count(&n).Error
	if err != nil {
		return 0, appmodels.NewInternalError(err)
	}
	return n, nil
}
