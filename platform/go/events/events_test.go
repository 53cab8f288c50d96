package events

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, Event) error { return errors.New("down") }

func TestMultiPublishesToAllAndJoinsErrors(t *testing.T) {
	rec := NewRecorder(4)
	evt, err := New(TypeProvisioningStatus, uuid.New(), map[string]string{"state": "success"}, time.Now())
	require.NoError(t, err)

	err = Multi{rec, failingPublisher{}, nil}.Publish(context.Background(), evt)
	require.ErrorContains(t, err, "down")

	got := rec.Drain()
	require.Len(t, got, 1)
	require.JSONEq(t, `{"state":"success"}`, string(got[0].Data))
}

func TestHubStreamsEventsFilteredByTenant(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	watched := uuid.New()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?tenantId=" + watched.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	other, err := New(TypeProvisioningAudit, uuid.New(), map[string]string{"step": "deployment.requested"}, time.Now())
	require.NoError(t, err)
	mine, err := New(TypeProvisioningStatus, watched, map[string]string{"state": "in_progress"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, hub.Publish(context.Background(), other))
	require.NoError(t, hub.Publish(context.Background(), mine))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, TypeProvisioningStatus, got.Type)
	require.Equal(t, watched, got.TenantID)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
