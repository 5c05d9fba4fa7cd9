package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lgulliver/ballast/pkg/types"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.Manifest{}, &types.Tag{}))
	return NewService(db)
}

func TestRecordManifestIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RecordManifest(ctx, "org/app", "sha256:aaa"))
	require.NoError(t, svc.RecordManifest(ctx, "org/app", "sha256:aaa"))
	require.NoError(t, svc.RecordManifest(ctx, "org/app", "sha256:bbb"))

	var count int64
	require.NoError(t, svc.db.Model(&types.Manifest{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestRecordTagMovesDigest(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RecordTag(ctx, "org/app", "v1", "sha256:aaa"))
	require.NoError(t, svc.RecordTag(ctx, "org/app", "v1", "sha256:bbb"))

	tags, err := svc.Tags(ctx, "org/app")
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "sha256:bbb", tags[0].Digest)
}

func TestDeleteTag(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RecordTag(ctx, "org/app", "v1", "sha256:aaa"))
	require.NoError(t, svc.DeleteTag(ctx, "org/app", "v1"))

	tags, err := svc.Tags(ctx, "org/app")
	require.NoError(t, err)
	assert.Empty(t, tags)

	// Deleting an absent tag is not an error.
	assert.NoError(t, svc.DeleteTag(ctx, "org/app", "ghost"))
}

func TestRepositories(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RecordManifest(ctx, "org/b", "sha256:aaa"))
	require.NoError(t, svc.RecordManifest(ctx, "org/a", "sha256:bbb"))
	require.NoError(t, svc.RecordManifest(ctx, "org/a", "sha256:ccc"))

	repos, err := svc.Repositories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"org/a", "org/b"}, repos)
}
