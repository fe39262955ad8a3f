package emulators

import (
	"context"
	"fmt"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	testFirestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
	testFirestoreEmulatorPort  = "8080"
)

type FirestoreConfig struct {
	GCImageContainer
}

func GetDefaultFirestoreConfig(projectID string) FirestoreConfig {
	return FirestoreConfig{
		GCImageContainer: GCImageContainer{
			ImageContainer: ImageContainer{
				EmulatorImage:    testFirestoreEmulatorImage,
				EmulatorHTTPPort: testFirestoreEmulatorPort,
			},
			ProjectID:       projectID,
			SetEnvVariables: true,
		},
	}
}

// SetupFirestoreEmulator starts a Firestore emulator container and returns
// client options for connecting to it. FIRESTORE_EMULATOR_HOST is also set so
// clients constructed without options find the emulator.
func SetupFirestoreEmulator(t *testing.T, ctx context.Context, cfg FirestoreConfig) (clientOptions []option.ClientOption, cleanupFunc func()) {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        cfg.EmulatorImage,
		ExposedPorts: []string{fmt.Sprintf("%s/tcp", cfg.EmulatorHTTPPort)},
		Cmd:          []string{"gcloud", "beta", "emulators", "firestore", "start", fmt.Sprintf("--host-port=0.0.0.0:%s", cfg.EmulatorHTTPPort)},
		WaitingFor:   wait.ForListeningPort(nat.Port(cfg.EmulatorHTTPPort)),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, nat.Port(cfg.EmulatorHTTPPort))
	require.NoError(t, err)
	emulatorHost := fmt.Sprintf("%s:%s", host, port.Port())

	t.Logf("Firestore emulator container started, listening on: %s", emulatorHost)
	if cfg.SetEnvVariables {
		t.Setenv("FIRESTORE_EMULATOR_HOST", emulatorHost)
	}
	clientOptions = []option.ClientOption{
		option.WithEndpoint(emulatorHost),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	}

	return clientOptions, func() {
		err := container.Terminate(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to terminate Firestore emulator container")
		}
	}
}
