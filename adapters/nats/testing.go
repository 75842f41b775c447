package nats

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testImage = "nats:latest"
	testPort  = "4222/tcp"
)

// Testing is the part of testing.TB the container helper needs.
type Testing interface {
	require.TestingT
	Context() context.Context
	Logf(format string, args ...any)
	Cleanup(func())
	Skip(args ...any)
}

// NewTestContainer returns a connector to a JetStream enabled server for
// event store tests. ESK_NATS_TEST_URL points it at a running server;
// otherwise a container is started and removed with the test. The test is
// skipped in -short mode.
func NewTestContainer(t Testing) Connector {
	if testing.Short() {
		t.Skip("nats event store tests need a server")
	}
	if url := os.Getenv("ESK_NATS_TEST_URL"); url != "" {
		return ConnectURL(url)
	}

	natsC, err := testcontainers.Run(
		t.Context(), testImage,
		testcontainers.WithCmd("-js"),
		testcontainers.WithExposedPorts(testPort),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort(testPort),
			wait.ForLog("Server is ready"),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(natsC); err != nil {
			t.Errorf("terminate nats container: %s", err)
		}
	})

	ip, err := natsC.ContainerIP(t.Context())
	require.NoError(t, err)

	url := fmt.Sprintf("nats://%s:4222", ip)
	t.Logf("nats event store server: %s", url)
	return ConnectURL(url)
}
