// Package catalog indexes repository, tag, and digest rows for browsing.
// It is fed by observing manifest writes and never consulted on the
// distribution request path.
package catalog

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lgulliver/ballast/pkg/types"
)

// Service provides catalog queries and write observation.
type Service struct {
	db *gorm.DB
}

// NewService creates a catalog service on the given database.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// RecordManifest upserts a manifest row. Re-recording a known digest is a
// no-op.
func (s *Service) RecordManifest(ctx context.Context, repository, dgst string) error {
	row := types.Manifest{Repository: repository, Digest: dgst}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to record manifest: %w", err)
	}
	return nil
}

// RecordTag upserts a tag row, moving the tag to the given digest if it
// already exists.
func (s *Service) RecordTag(ctx context.Context, repository, tag, dgst string) error {
	row := types.Tag{Repository: repository, Tag: tag, Digest: dgst}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "repository"}, {Name: "tag"}},
			DoUpdates: clause.AssignmentColumns([]string{"digest", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to record tag: %w", err)
	}
	return nil
}

// DeleteTag removes a tag row. Removing an absent tag is not an error.
func (s *Service) DeleteTag(ctx context.Context, repository, tag string) error {
	err := s.db.WithContext(ctx).
		Where("repository = ? AND tag = ?", repository, tag).
		Delete(&types.Tag{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete tag: %w", err)
	}
	return nil
}

// Repositories returns the distinct repository names known to the catalog.
func (s *Service) Repositories(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).
		Model(&types.Manifest{}).
		Distinct("repository").
		Order("repository").
		Pluck("repository", &names).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	return names, nil
}

// Tags returns the tag rows for one repository.
func (s *Service) Tags(ctx context.Context, repository string) ([]types.Tag, error) {
	var tags []types.Tag
	err := s.db.WithContext(ctx).
		Where("repository = ?", repository).
		Order("tag").
		Find(&tags).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	return tags, nil
}
