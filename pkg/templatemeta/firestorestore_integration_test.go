//go:build integration

package templatemeta_test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-mailbatch/pkg/helpers/emulators"
	"github.com/illmade-knight/go-mailbatch/pkg/templatemeta"
	"github.com/illmade-knight/go-mailbatch/pkg/types"
)

// TestFirestoreStore_Integration runs the metadata store against a live
// Firestore emulator. Template keys contain slashes, which Firestore document
// IDs cannot, so the round trip also covers the key-to-docID mapping.
func TestFirestoreStore_Integration(t *testing.T) {
	require.NotEmpty(t, "docker", "This test requires Docker to be running.")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	logger := zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)

	const (
		testProjectID  = "test-template-metadata"
		testCollection = "template-metadata"
	)

	firestoreEmulatorCfg := emulators.GetDefaultFirestoreConfig(testProjectID)
	clientOptions, cleanup := emulators.SetupFirestoreEmulator(t, ctx, firestoreEmulatorCfg)
	t.Cleanup(cleanup)

	firestoreClient, err := firestore.NewClient(ctx, testProjectID, clientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { firestoreClient.Close() })

	store, err := templatemeta.NewFirestoreStore(firestoreClient, &templatemeta.FirestoreStoreConfig{
		ProjectID:      testProjectID,
		CollectionName: testCollection,
	}, logger)
	require.NoError(t, err)

	t.Run("Put and Get round trip with slashed key", func(t *testing.T) {
		md := &types.TemplateMetadata{
			Key:               "templates/welcome.html",
			RequiredVariables: []string{"name", "order_id"},
			Version:           1,
			ContentHash:       "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
			UpdatedAt:         time.Now().UTC().Truncate(time.Millisecond),
		}
		require.NoError(t, store.Put(ctx, md))

		got, err := store.Get(ctx, md.Key)
		require.NoError(t, err)
		assert.Equal(t, md.Key, got.Key)
		assert.Equal(t, []string{"name", "order_id"}, got.RequiredVariables)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, md.ContentHash, got.ContentHash)
	})

	t.Run("Put overwrites an existing record", func(t *testing.T) {
		md := &types.TemplateMetadata{
			Key:               "templates/promo.html",
			RequiredVariables: []string{"name"},
			Version:           1,
		}
		require.NoError(t, store.Put(ctx, md))

		md.RequiredVariables = []string{"discount", "name"}
		md.Version = 2
		require.NoError(t, store.Put(ctx, md))

		got, err := store.Get(ctx, md.Key)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
		assert.Equal(t, []string{"discount", "name"}, got.RequiredVariables)
	})

	t.Run("Get missing key returns ErrTemplateNotFound", func(t *testing.T) {
		_, err := store.Get(ctx, "templates/unknown.html")
		assert.ErrorIs(t, err, templatemeta.ErrTemplateNotFound)
	})

	t.Run("Delete removes the record", func(t *testing.T) {
		md := &types.TemplateMetadata{Key: "templates/doomed.html", Version: 1}
		require.NoError(t, store.Put(ctx, md))
		require.NoError(t, store.Delete(ctx, md.Key))

		_, err := store.Get(ctx, md.Key)
		assert.ErrorIs(t, err, templatemeta.ErrTemplateNotFound)

		// Deleting again stays a no-op.
		assert.NoError(t, store.Delete(ctx, md.Key))
	})
}
