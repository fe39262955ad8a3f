package templatemeta

import (
	"context"
	"errors"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/illmade-knight/go-mailbatch/pkg/types"
)

// FirestoreStoreConfig holds configuration for the Firestore metadata store.
type FirestoreStoreConfig struct {
	ProjectID      string
	CollectionName string // e.g., "template-metadata"
}

// LoadFirestoreStoreConfigFromEnv loads Firestore metadata store configuration.
func LoadFirestoreStoreConfigFromEnv() (*FirestoreStoreConfig, error) {
	cfg := &FirestoreStoreConfig{
		ProjectID:      os.Getenv("GCP_PROJECT_ID"),
		CollectionName: os.Getenv("FIRESTORE_COLLECTION_TEMPLATE_METADATA"),
	}
	if cfg.ProjectID == "" {
		return nil, errors.New("GCP_PROJECT_ID environment variable not set for Firestore")
	}
	if cfg.CollectionName == "" {
		return nil, errors.New("FIRESTORE_COLLECTION_TEMPLATE_METADATA environment variable not set")
	}
	return cfg, nil
}

// FirestoreStore implements Store using Google Cloud Firestore. The document
// ID is the template key.
type FirestoreStore struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreStore creates a metadata store over an existing Firestore
// client. The caller owns the client's lifecycle.
func NewFirestoreStore(client *firestore.Client, cfg *FirestoreStoreConfig, logger zerolog.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	return &FirestoreStore{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreStore").Str("collection", cfg.CollectionName).Logger(),
	}, nil
}

// Get retrieves template metadata from Firestore. A missing document maps to
// ErrTemplateNotFound; any other failure is surfaced as transient.
func (s *FirestoreStore) Get(ctx context.Context, key string) (*types.TemplateMetadata, error) {
	docSnap, err := s.client.Collection(s.collectionName).Doc(docID(key)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			s.logger.Warn().Str("template_key", key).Msg("Template metadata not found in Firestore")
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("firestore Get for %s: %w", key, err)
	}

	var md types.TemplateMetadata
	if err := docSnap.DataTo(&md); err != nil {
		return nil, fmt.Errorf("firestore DataTo for %s: %w", key, err)
	}
	s.logger.Debug().Str("template_key", key).Int64("version", md.Version).Msg("Fetched template metadata from Firestore")
	return &md, nil
}

// Put upserts the metadata record for md.Key.
func (s *FirestoreStore) Put(ctx context.Context, md *types.TemplateMetadata) error {
	if md == nil || md.Key == "" {
		return errors.New("metadata record must carry a template key")
	}
	if _, err := s.client.Collection(s.collectionName).Doc(docID(md.Key)).Set(ctx, md); err != nil {
		return fmt.Errorf("firestore Set for %s: %w", md.Key, err)
	}
	s.logger.Debug().Str("template_key", md.Key).Int64("version", md.Version).Msg("Template metadata written to Firestore")
	return nil
}

// Delete removes the metadata record for key. Deleting a non-existent key is
// a no-op, matching Firestore's own delete semantics.
func (s *FirestoreStore) Delete(ctx context.Context, key string) error {
	if _, err := s.client.Collection(s.collectionName).Doc(docID(key)).Delete(ctx); err != nil {
		return fmt.Errorf("firestore Delete for %s: %w", key, err)
	}
	s.logger.Debug().Str("template_key", key).Msg("Template metadata removed from Firestore")
	return nil
}

// docID makes an object path usable as a Firestore document ID, which cannot
// contain forward slashes.
func docID(key string) string {
	out := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			out[i] = ':'
		} else {
			out[i] = key[i]
		}
	}
	return string(out)
}
