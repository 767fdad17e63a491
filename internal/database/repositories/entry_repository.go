// Package repositories provides data access layer implementations.
package repositories

import (
	"context"

	"github.com/lucsky/cuid"
	"gorm.io/gorm"

	"github.com/bbernstein/hyperion-link-go/internal/database/models"
	"github.com/bbernstein/hyperion-link-go/internal/services/zone"
)

// EntryRepository handles link entry data access.
type EntryRepository struct {
	db *gorm.DB
}

// NewEntryRepository creates a new EntryRepository.
func NewEntryRepository(db *gorm.DB) *EntryRepository {
	return &EntryRepository{db: db}
}

// FindAll returns all entries, oldest first.
func (r *EntryRepository) FindAll(ctx context.Context) ([]models.LinkEntry, error) {
	var entries []models.LinkEntry
	result := r.db.WithContext(ctx).
		Order("created_at ASC").
		Find(&entries)
	return entries, result.Error
}

// FindByID returns an entry by ID, or nil when it does not exist.
func (r *EntryRepository) FindByID(ctx context.Context, id string) (*models.LinkEntry, error) {
	var entry models.LinkEntry
	result := r.db.WithContext(ctx).First(&entry, "id = ?", id)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, result.Error
	}
	return &entry, nil
}

// FindByHostname returns the entries created for a Hyperion hostname.
func (r *EntryRepository) FindByHostname(ctx context.Context, hostname string) ([]models.LinkEntry, error) {
	var entries []models.LinkEntry
	result := r.db.WithContext(ctx).
		Where("hostname = ?", hostname).
		Order("created_at ASC").
		Find(&entries)
	return entries, result.Error
}

// Create creates a new entry.
func (r *EntryRepository) Create(ctx context.Context, entry *models.LinkEntry) error {
	if entry.ID == "" {
		entry.ID = cuid.New()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// SaveEntry persists a finished setup and returns the created record.
func (r *EntryRepository) SaveEntry(ctx context.Context, cfg zone.FinishedConfig) (*models.LinkEntry, error) {
	entry := models.NewLinkEntry(cfg)
	if err := r.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// UpdateLights replaces the zone assignment of an entry.
func (r *EntryRepository) UpdateLights(ctx context.Context, id string, lights zone.Assignment) (*models.LinkEntry, error) {
	entry, err := r.FindByID(ctx, id)
	if err != nil || entry == nil {
		return nil, err
	}
	entry.Lights = lights.Normalize()
	if err := r.db.WithContext(ctx).Save(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

// Delete deletes an entry by ID.
func (r *EntryRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&models.LinkEntry{}, "id = ?", id).Error
}
