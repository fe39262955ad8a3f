//go:build integration

package tracker_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-mailbatch/pkg/helpers/emulators"
	"github.com/illmade-knight/go-mailbatch/pkg/tracker"
	"github.com/illmade-knight/go-mailbatch/pkg/types"
)

// TestFirestoreTracker_Integration exercises descriptor creation and the
// transactional chunk-result path against a live Firestore emulator.
func TestFirestoreTracker_Integration(t *testing.T) {
	require.NotEmpty(t, "docker", "This test requires Docker to be running.")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	logger := zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)

	const (
		testProjectID  = "test-batch-tracker"
		testCollection = "email-batches"
	)

	firestoreEmulatorCfg := emulators.GetDefaultFirestoreConfig(testProjectID)
	clientOptions, cleanup := emulators.SetupFirestoreEmulator(t, ctx, firestoreEmulatorCfg)
	t.Cleanup(cleanup)

	firestoreClient, err := firestore.NewClient(ctx, testProjectID, clientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { firestoreClient.Close() })

	batchTracker, err := tracker.NewFirestoreTracker(firestoreClient, &tracker.FirestoreTrackerConfig{
		ProjectID:      testProjectID,
		CollectionName: testCollection,
	}, logger)
	require.NoError(t, err)

	t.Run("Create and Get round trip", func(t *testing.T) {
		desc := &types.BatchDescriptor{
			BatchName:       "welcome-20260101T120000-abc12345",
			TemplateKey:     "templates/welcome.html",
			TotalRecipients: 150,
			// Create must override anything the caller sets here.
			SucceededCount: 99,
			Status:         types.BatchComplete,
		}
		require.NoError(t, batchTracker.Create(ctx, desc))

		got, err := batchTracker.Get(ctx, desc.BatchName)
		require.NoError(t, err)
		assert.Equal(t, int64(150), got.TotalRecipients)
		assert.Equal(t, int64(0), got.SucceededCount)
		assert.Equal(t, int64(0), got.FailedCount)
		assert.Equal(t, types.BatchPending, got.Status)
		assert.Empty(t, got.ReportedChunks)
		assert.True(t, got.ExpirationTime.After(got.CreatedAt))
	})

	t.Run("Get unknown batch returns ErrBatchNotFound", func(t *testing.T) {
		_, err := batchTracker.Get(ctx, "no-such-batch")
		assert.ErrorIs(t, err, tracker.ErrBatchNotFound)
	})

	t.Run("ApplyChunkResult accumulates and derives status", func(t *testing.T) {
		desc := &types.BatchDescriptor{
			BatchName:       "promo-20260101T130000-def67890",
			TemplateKey:     "templates/promo.html",
			TotalRecipients: 100,
		}
		require.NoError(t, batchTracker.Create(ctx, desc))

		updated, err := batchTracker.ApplyChunkResult(ctx, types.ChunkResult{
			BatchName: desc.BatchName, ChunkID: desc.BatchName + "-0", Succeeded: 50,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(50), updated.SucceededCount)
		assert.Equal(t, types.BatchPartial, updated.Status)

		updated, err = batchTracker.ApplyChunkResult(ctx, types.ChunkResult{
			BatchName: desc.BatchName, ChunkID: desc.BatchName + "-1", Succeeded: 48, Failed: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(98), updated.SucceededCount)
		assert.Equal(t, int64(2), updated.FailedCount)
		assert.Equal(t, types.BatchPartial, updated.Status)
		assert.ElementsMatch(t, []string{desc.BatchName + "-0", desc.BatchName + "-1"}, updated.ReportedChunks)
	})

	t.Run("duplicate chunk delivery does not double count", func(t *testing.T) {
		desc := &types.BatchDescriptor{
			BatchName:       "dup-20260101T140000-aaa11111",
			TemplateKey:     "templates/welcome.html",
			TotalRecipients: 50,
		}
		require.NoError(t, batchTracker.Create(ctx, desc))

		res := types.ChunkResult{BatchName: desc.BatchName, ChunkID: desc.BatchName + "-0", Succeeded: 50}
		first, err := batchTracker.ApplyChunkResult(ctx, res)
		require.NoError(t, err)
		assert.Equal(t, types.BatchComplete, first.Status)

		second, err := batchTracker.ApplyChunkResult(ctx, res)
		require.NoError(t, err)
		assert.Equal(t, int64(50), second.SucceededCount)
		assert.Equal(t, types.BatchComplete, second.Status)

		stored, err := batchTracker.Get(ctx, desc.BatchName)
		require.NoError(t, err)
		assert.Equal(t, int64(50), stored.SucceededCount)
		assert.Len(t, stored.ReportedChunks, 1)
	})

	t.Run("tallies exceeding remaining recipients are clamped", func(t *testing.T) {
		desc := &types.BatchDescriptor{
			BatchName:       "clamp-20260101T150000-bbb22222",
			TemplateKey:     "templates/welcome.html",
			TotalRecipients: 10,
		}
		require.NoError(t, batchTracker.Create(ctx, desc))

		_, err := batchTracker.ApplyChunkResult(ctx, types.ChunkResult{
			BatchName: desc.BatchName, ChunkID: desc.BatchName + "-0", Succeeded: 8,
		})
		require.NoError(t, err)

		// A second chunk claims more than the 2 recipients that remain.
		updated, err := batchTracker.ApplyChunkResult(ctx, types.ChunkResult{
			BatchName: desc.BatchName, ChunkID: desc.BatchName + "-1", Succeeded: 4, Failed: 3,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(10), updated.SucceededCount+updated.FailedCount)
		assert.Equal(t, int64(10), updated.SucceededCount)
		assert.Equal(t, types.BatchComplete, updated.Status)
	})

	t.Run("reporting against unknown batch fails", func(t *testing.T) {
		_, err := batchTracker.ApplyChunkResult(ctx, types.ChunkResult{
			BatchName: "missing-batch", ChunkID: "missing-batch-0", Succeeded: 1,
		})
		assert.ErrorIs(t, err, tracker.ErrBatchNotFound)
	})

	t.Run("concurrent chunk reports lose no increments", func(t *testing.T) {
		const chunks = 10
		desc := &types.BatchDescriptor{
			BatchName:       "conc-20260101T160000-ccc33333",
			TemplateKey:     "templates/welcome.html",
			TotalRecipients: chunks * 10,
		}
		require.NoError(t, batchTracker.Create(ctx, desc))

		var wg sync.WaitGroup
		errs := make(chan error, chunks)
		for i := 0; i < chunks; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := batchTracker.ApplyChunkResult(ctx, types.ChunkResult{
					BatchName: desc.BatchName,
					ChunkID:   fmt.Sprintf("%s-%d", desc.BatchName, i),
					Succeeded: 9,
					Failed:    1,
				})
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		final, err := batchTracker.Get(ctx, desc.BatchName)
		require.NoError(t, err)
		assert.Equal(t, int64(chunks*9), final.SucceededCount)
		assert.Equal(t, int64(chunks*1), final.FailedCount)
		assert.Equal(t, types.BatchPartial, final.Status)
		assert.Len(t, final.ReportedChunks, chunks)
	})
}
