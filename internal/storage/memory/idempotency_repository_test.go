package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func TestIdempotencyRepository_CreateAndGet(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ctx := context.Background()
	ttl := time.Now().UTC().Add(2 * time.Hour).Round(time.Second)

	created, err := repo.CreateProcessing(ctx, "checkout-key-1", "hash-1", ttl)
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusProcessing, created.Status)

	got, err := repo.Get(ctx, "checkout-key-1")
	require.NoError(t, err)
	assert.Equal(t, "hash-1", got.RequestHash)
	assert.True(t, got.TTLAt.Equal(ttl))
}

func TestIdempotencyRepository_ConflictAndHashMismatch(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ctx := context.Background()
	ttl := time.Now().UTC().Add(time.Hour)

	_, err := repo.CreateProcessing(ctx, "checkout-key-2", "hash-a", ttl)
	require.NoError(t, err)

	_, err = repo.CreateProcessing(ctx, "checkout-key-2", "hash-a", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)

	_, err = repo.CreateProcessing(ctx, "checkout-key-2", "hash-b", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)

	_, err = repo.CreateProcessing(ctx, " ", "hash-b", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
}

func TestIdempotencyRepository_ExpiredKeyCanBeReused(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ctx := context.Background()

	_, err := repo.CreateProcessing(ctx, "checkout-key-3", "hash-a", time.Now().UTC().Add(-time.Second))
	require.NoError(t, err)

	created, err := repo.CreateProcessing(ctx, "checkout-key-3", "hash-b", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "hash-b", created.RequestHash)
}

func TestIdempotencyRepository_MarkDoneAndDeleteExpired(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ctx := context.Background()

	_, err := repo.CreateProcessing(ctx, "expired", "hash-expired", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	_, err = repo.CreateProcessing(ctx, "active", "hash-active", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, repo.MarkDone(ctx, "active", []byte(`{"ok":true}`), 201))

	active, err := repo.Get(ctx, "active")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusDone, active.Status)
	assert.Equal(t, 201, active.HTTPStatus)
	assert.JSONEq(t, `{"ok":true}`, string(active.ResponseBody))

	removed, err := repo.DeleteExpired(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = repo.Get(ctx, "expired")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	require.ErrorIs(t, repo.MarkFailed(ctx, "missing", nil, 500), domain.ErrIdempotencyKeyNotFound)
}
