package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomasv/fedipost/internal/domain"
)

func setupTestRepo(t *testing.T) *PublishRecordRepository {
	t.Helper()
	db, err := InitDB(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	return NewPublishRecordRepository(db)
}

func TestRecordAndLastPublished(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Record(ctx, &domain.PublishRecord{
		ImageKey:  "key-a",
		Location:  "file:a.jpg",
		Outcome:   domain.RecordPublished,
		CreatedAt: base,
	}))
	require.NoError(t, repo.Record(ctx, &domain.PublishRecord{
		ImageKey:  "key-b",
		Location:  "file:b.jpg",
		Outcome:   domain.RecordPublished,
		CreatedAt: base.Add(time.Hour),
	}))
	require.NoError(t, repo.Record(ctx, &domain.PublishRecord{
		ImageKey:  "key-c",
		Location:  "file:c.jpg",
		Outcome:   domain.RecordEvicted,
		Detail:    "does not exist",
		CreatedAt: base.Add(2 * time.Hour),
	}))

	last, err := repo.LastPublished(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "key-b", last.ImageKey, "eviction rows must not count as published")
}

func TestLastPublishedEmptyHistory(t *testing.T) {
	repo := setupTestRepo(t)

	last, err := repo.LastPublished(context.Background())
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestCountByOutcome(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Record(ctx, &domain.PublishRecord{
			ImageKey: "key", Location: "file:a.jpg",
			Outcome: domain.RecordPublished, CreatedAt: time.Now(),
		}))
	}
	require.NoError(t, repo.Record(ctx, &domain.PublishRecord{
		ImageKey: "key", Location: "file:a.jpg",
		Outcome: domain.RecordEvicted, CreatedAt: time.Now(),
	}))

	published, err := repo.CountByOutcome(ctx, domain.RecordPublished)
	require.NoError(t, err)
	assert.Equal(t, int64(3), published)

	evicted, err := repo.CountByOutcome(ctx, domain.RecordEvicted)
	require.NoError(t, err)
	assert.Equal(t, int64(1), evicted)
}

func TestRecentNewestFirst(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	for i, key := range []string{"old", "mid", "new"} {
		require.NoError(t, repo.Record(ctx, &domain.PublishRecord{
			ImageKey:  key,
			Location:  "file:" + key + ".jpg",
			Outcome:   domain.RecordPublished,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	records, err := repo.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "new", records[0].ImageKey)
	assert.Equal(t, "mid", records[1].ImageKey)
}
