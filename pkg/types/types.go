package types

import (
	"time"
)

// Manifest is one catalog row per stored manifest digest. The catalog is
// an index for browsing; the object store remains the source of truth.
type Manifest struct {
	ID         uint      `json:"-" gorm:"primaryKey"`
	Repository string    `json:"repository" gorm:"uniqueIndex:idx_manifests_repo_digest;not null"`
	Digest     string    `json:"digest" gorm:"uniqueIndex:idx_manifests_repo_digest;not null"`
	CreatedAt  time.Time `json:"created_at"`
}

// Tag is one catalog row per tag alias. A tag row is updated in place
// when the tag moves to a new digest.
type Tag struct {
	ID         uint      `json:"-" gorm:"primaryKey"`
	Repository string    `json:"repository" gorm:"uniqueIndex:idx_tags_repo_tag;not null"`
	Tag        string    `json:"tag" gorm:"uniqueIndex:idx_tags_repo_tag;not null"`
	Digest     string    `json:"digest" gorm:"not null"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
