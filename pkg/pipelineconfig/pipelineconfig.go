package pipelineconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PipelineConfig maps the pipeline resources YAML file: the cloud resources
// the three binaries attach to. The file names existing resources; nothing
// here provisions them.
type PipelineConfig struct {
	ProjectID string        `yaml:"project_id"`
	Storage   StorageSpec   `yaml:"storage"`
	Messaging MessagingSpec `yaml:"messaging"`
	Firestore FirestoreSpec `yaml:"firestore"`
}

// StorageSpec names the bucket and its internal layout prefixes.
type StorageSpec struct {
	Bucket          string `yaml:"bucket"`
	SendPrefix      string `yaml:"send_prefix,omitempty"`
	ScheduledPrefix string `yaml:"scheduled_prefix,omitempty"`
	TemplatesPrefix string `yaml:"templates_prefix,omitempty"`
	ErrorPrefix     string `yaml:"error_prefix,omitempty"`
}

// MessagingSpec names the Pub/Sub resources: the bucket-notification
// subscriptions feeding the producer and indexer, and the chunk work queue.
type MessagingSpec struct {
	UploadSubscription   string `yaml:"upload_subscription"`
	TemplateSubscription string `yaml:"template_subscription"`
	ChunkTopic           string `yaml:"chunk_topic"`
	ChunkSubscription    string `yaml:"chunk_subscription"`
}

// FirestoreSpec names the metadata and tracking collections.
type FirestoreSpec struct {
	TemplateMetadataCollection string `yaml:"template_metadata_collection"`
	BatchTrackerCollection     string `yaml:"batch_tracker_collection"`
}

// Load reads and validates the pipeline resources file. Layout prefixes get
// their defaults when the file omits them.
func Load(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline config '%s': %w", path, err)
	}

	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML from '%s': %w", path, err)
	}

	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("validation error: project_id is required in '%s'", path)
	}
	if cfg.Storage.Bucket == "" {
		return nil, fmt.Errorf("validation error: storage.bucket is required in '%s'", path)
	}
	if cfg.Firestore.TemplateMetadataCollection == "" || cfg.Firestore.BatchTrackerCollection == "" {
		return nil, fmt.Errorf("validation error: both firestore collections are required in '%s'", path)
	}

	if cfg.Storage.SendPrefix == "" {
		cfg.Storage.SendPrefix = "send/"
	}
	if cfg.Storage.ScheduledPrefix == "" {
		cfg.Storage.ScheduledPrefix = "scheduled/"
	}
	if cfg.Storage.TemplatesPrefix == "" {
		cfg.Storage.TemplatesPrefix = "templates/"
	}
	if cfg.Storage.ErrorPrefix == "" {
		cfg.Storage.ErrorPrefix = "errors/"
	}
	return &cfg, nil
}
