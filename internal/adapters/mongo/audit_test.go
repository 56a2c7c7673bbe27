package mongo_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mongoadapter "github.com/studiobook/seatlock/internal/adapters/mongo"
	"github.com/studiobook/seatlock/internal/domain"
	"github.com/studiobook/seatlock/internal/observability"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestAuditLogger_History(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping MongoDB container test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)

	audit, closeAudit, err := mongoadapter.OpenAuditLogger(ctx, "mongodb://"+host+":"+port.Port(), "seatlock_test", observability.NewNopLogger())
	require.NoError(t, err)
	require.NotNil(t, audit)
	t.Cleanup(closeAudit)
	require.NoError(t, audit.EnsureIndexes(ctx), "index creation is idempotent")

	now := time.Now().UTC()
	lock := domain.NewSeatLock(domain.ItemTypeEvent, "open-house", now, 10*time.Minute)
	audit.OnLockEvent(ctx, domain.NewLockEvent(domain.LockEventAcquired, lock, now))

	bookingID := uuid.New()
	require.NoError(t, lock.Consume(bookingID, now.Add(time.Minute)))
	consumed := domain.NewLockEvent(domain.LockEventConsumed, lock, now.Add(time.Minute))
	audit.OnLockEvent(ctx, consumed)

	// replays of the same event are rejected by the _id key
	assert.Error(t, audit.LogLockEvent(ctx, consumed))

	history, err := audit.History(ctx, lock.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, string(domain.LockEventAcquired), history[0].Action)
	assert.Equal(t, string(domain.LockEventConsumed), history[1].Action)
	assert.Equal(t, "open-house", history[1].ItemID)
	assert.Equal(t, bookingID.String(), history[1].Data["booking_id"])

	empty, err := audit.History(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestOpenAuditLogger_DisabledWithoutURI(t *testing.T) {
	audit, closeAudit, err := mongoadapter.OpenAuditLogger(context.Background(), "", "seatlock", observability.NewNopLogger())
	require.NoError(t, err)
	assert.Nil(t, audit)
	closeAudit()
}
