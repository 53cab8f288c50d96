package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startContainer(t *testing.T, image, port string) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping broker integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			ExposedPorts: []string{port},
			WaitingFor:   wait.ForListeningPort(nat.Port(port)).WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

func assertRoundTrip(t *testing.T, pub Publisher, sub Subscriber) {
	t.Helper()
	ctx := context.Background()

	received := make(chan Event, 1)
	cancel, err := sub.Subscribe(ctx, func(evt Event) { received <- evt })
	require.NoError(t, err)
	defer cancel()

	evt, err := New(TypeProvisioningAudit, uuid.New(), map[string]string{"status": "queued"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, pub.Publish(ctx, evt))

	select {
	case got := <-received:
		require.Equal(t, evt.TenantID, got.TenantID)
		require.Equal(t, TypeProvisioningAudit, got.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestRedisBusRoundTrip(t *testing.T) {
	addr := startContainer(t, "redis:7-alpine", "6379/tcp")
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	bus := NewRedisBus(client, "", nil)
	assertRoundTrip(t, bus, bus)
}

func TestNATSBusRoundTrip(t *testing.T) {
	addr := startContainer(t, "nats:2.10-alpine", "4222/tcp")
	nc, err := nats.Connect("nats://" + addr)
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	bus := NewNATSBus(nc, "", nil)
	assertRoundTrip(t, bus, bus)
}
