package templates_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-mailbatch/pkg/templatemeta"
	"github.com/illmade-knight/go-mailbatch/pkg/templates"
	"github.com/illmade-knight/go-mailbatch/pkg/types"
)

// --- Mock Implementations ---

// mockContentFetcher serves template bodies from an in-memory map.
type mockContentFetcher struct {
	sync.Mutex
	bodies     map[string]string
	getErr     error
	fetchCount int
}

func (m *mockContentFetcher) Get(_ context.Context, key string) (string, error) {
	m.Lock()
	defer m.Unlock()
	m.fetchCount++
	if m.getErr != nil {
		return "", m.getErr
	}
	body, ok := m.bodies[key]
	if !ok {
		return "", errors.New("object not found")
	}
	return body, nil
}

// mockMetadataStore is an in-memory templatemeta.Store.
type mockMetadataStore struct {
	sync.Mutex
	records map[string]*types.TemplateMetadata
	putErr  error
}

func newMockMetadataStore() *mockMetadataStore {
	return &mockMetadataStore{records: make(map[string]*types.TemplateMetadata)}
}

func (m *mockMetadataStore) Get(_ context.Context, key string) (*types.TemplateMetadata, error) {
	m.Lock()
	defer m.Unlock()
	md, ok := m.records[key]
	if !ok {
		return nil, templatemeta.ErrTemplateNotFound
	}
	cp := *md
	return &cp, nil
}

func (m *mockMetadataStore) Put(_ context.Context, md *types.TemplateMetadata) error {
	m.Lock()
	defer m.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	cp := *md
	m.records[md.Key] = &cp
	return nil
}

func (m *mockMetadataStore) Delete(_ context.Context, key string) error {
	m.Lock()
	defer m.Unlock()
	delete(m.records, key)
	return nil
}

// mockIndexNotifier records index-failure notifications.
type mockIndexNotifier struct {
	sync.Mutex
	calls []string
}

func (m *mockIndexNotifier) NotifyIndexFailure(_ context.Context, templateKey string, _ error) error {
	m.Lock()
	defer m.Unlock()
	m.calls = append(m.calls, templateKey)
	return nil
}

func finalizeEvent(object string) types.StorageEvent {
	return types.StorageEvent{Bucket: "mail-pipeline", Object: object, EventType: types.StorageObjectFinalize}
}

// --- Test Cases ---

func TestIndexer_IndexNewTemplate(t *testing.T) {
	content := &mockContentFetcher{bodies: map[string]string{
		"templates/welcome.html": "Hello {{name}}, your order {{order_id}} shipped",
	}}
	store := newMockMetadataStore()
	indexer, err := templates.NewIndexer(templates.IndexerConfig{}, content, store, nil, zerolog.Nop())
	require.NoError(t, err)

	skipped, err := indexer.HandleEvent(context.Background(), finalizeEvent("templates/welcome.html"))
	require.NoError(t, err)
	assert.False(t, skipped)

	md, err := store.Get(context.Background(), "templates/welcome.html")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "order_id"}, md.RequiredVariables)
	assert.Equal(t, int64(1), md.Version, "first upload starts at version 1")
	assert.NotEmpty(t, md.ContentHash)
}

func TestIndexer_ReindexVersioning(t *testing.T) {
	content := &mockContentFetcher{bodies: map[string]string{
		"templates/welcome.html": "Hello {{name}}",
	}}
	store := newMockMetadataStore()
	indexer, err := templates.NewIndexer(templates.IndexerConfig{}, content, store, nil, zerolog.Nop())
	require.NoError(t, err)

	ev := finalizeEvent("templates/welcome.html")
	_, err = indexer.HandleEvent(context.Background(), ev)
	require.NoError(t, err)

	t.Run("identical re-upload is a version no-op", func(t *testing.T) {
		_, err := indexer.HandleEvent(context.Background(), ev)
		require.NoError(t, err)

		md, err := store.Get(context.Background(), ev.Object)
		require.NoError(t, err)
		assert.Equal(t, int64(1), md.Version)
	})

	t.Run("changed content bumps the version", func(t *testing.T) {
		content.Lock()
		content.bodies[ev.Object] = "Hello {{name}}, welcome to {{product}}"
		content.Unlock()

		_, err := indexer.HandleEvent(context.Background(), ev)
		require.NoError(t, err)

		md, err := store.Get(context.Background(), ev.Object)
		require.NoError(t, err)
		assert.Equal(t, int64(2), md.Version)
		assert.Equal(t, []string{"name", "product"}, md.RequiredVariables)
	})
}

func TestIndexer_Delete(t *testing.T) {
	content := &mockContentFetcher{bodies: map[string]string{}}
	store := newMockMetadataStore()
	store.records["templates/promo.html"] = &types.TemplateMetadata{Key: "templates/promo.html", Version: 3}

	indexer, err := templates.NewIndexer(templates.IndexerConfig{}, content, store, nil, zerolog.Nop())
	require.NoError(t, err)

	ev := types.StorageEvent{Bucket: "mail-pipeline", Object: "templates/promo.html", EventType: types.StorageObjectDelete}
	skipped, err := indexer.HandleEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.False(t, skipped)

	_, err = store.Get(context.Background(), "templates/promo.html")
	assert.ErrorIs(t, err, templatemeta.ErrTemplateNotFound)

	t.Run("deleting an unindexed key is a no-op", func(t *testing.T) {
		ev.Object = "templates/never-indexed.html"
		_, err := indexer.HandleEvent(context.Background(), ev)
		require.NoError(t, err)
	})
}

func TestIndexer_SkipsEventsOutsideLayout(t *testing.T) {
	content := &mockContentFetcher{bodies: map[string]string{}}
	store := newMockMetadataStore()
	indexer, err := templates.NewIndexer(templates.IndexerConfig{}, content, store, nil, zerolog.Nop())
	require.NoError(t, err)

	for _, object := range []string{"send/welcome.html/list.csv", "templates/readme.md", "errors/list.csv"} {
		skipped, err := indexer.HandleEvent(context.Background(), finalizeEvent(object))
		require.NoError(t, err)
		assert.True(t, skipped, "expected %s to be skipped", object)
	}
	assert.Zero(t, content.fetchCount, "skipped events must not fetch content")
}

func TestIndexer_FailureNotifiesAndReturnsError(t *testing.T) {
	content := &mockContentFetcher{getErr: errors.New("storage unavailable")}
	store := newMockMetadataStore()
	notifier := &mockIndexNotifier{}
	indexer, err := templates.NewIndexer(templates.IndexerConfig{}, content, store, notifier, zerolog.Nop())
	require.NoError(t, err)

	skipped, err := indexer.HandleEvent(context.Background(), finalizeEvent("templates/welcome.html"))
	require.Error(t, err)
	assert.False(t, skipped)
	assert.Equal(t, []string{"templates/welcome.html"}, notifier.calls)
}
