package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/rehabtrack/internal/events"
	"github.com/kiranshivaraju/rehabtrack/pkg/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestNewJobEvent_Done(t *testing.T) {
	completed := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	job := &models.Job{
		ID:          "job-1",
		OwnerID:     uuid.New(),
		SubjectID:   uuid.New(),
		ExerciseRef: "lunge",
		Status:      models.JobStatusDone,
		Result:      &models.AnalysisResult{RepCount: 9},
		CompletedAt: &completed,
	}

	ev := events.NewJobEvent(job)
	assert.Equal(t, "job-1", ev.JobID)
	assert.Equal(t, "job.done", ev.RoutingKey())
	require.NotNil(t, ev.RepCount)
	assert.Equal(t, 9, *ev.RepCount)
	assert.Equal(t, completed, ev.OccurredAt)
	assert.Empty(t, ev.ErrorMessage)
}

func TestNewJobEvent_Error(t *testing.T) {
	msg := "no person detected"
	ev := events.NewJobEvent(&models.Job{ID: "job-2", Status: models.JobStatusError, ErrorMessage: &msg})

	assert.Equal(t, "job.error", ev.RoutingKey())
	assert.Nil(t, ev.RepCount)
	assert.Equal(t, msg, ev.ErrorMessage)
	assert.False(t, ev.OccurredAt.IsZero())
}

func TestNoopPublisher(t *testing.T) {
	var p events.Publisher = events.NoopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), events.JobEvent{JobID: "x"}))
	assert.NoError(t, p.Close())
}

func TestAMQPPublisher_Publish(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3-alpine",
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5672")
	require.NoError(t, err)
	url := "amqp://guest:guest@" + host + ":" + port.Port() + "/"

	pub, err := events.NewAMQPPublisher(url, "rehab.jobs.test")
	require.NoError(t, err)
	t.Cleanup(func() { pub.Close() })

	conn, err := amqp.Dial(url)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ch, err := conn.Channel()
	require.NoError(t, err)
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(q.Name, "job.*", "rehab.jobs.test", false, nil))
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	require.NoError(t, err)

	reps := 4
	require.NoError(t, pub.Publish(ctx, events.JobEvent{JobID: "job-9", Status: models.JobStatusDone, RepCount: &reps}))

	select {
	case d := <-deliveries:
		assert.Equal(t, "job.done", d.RoutingKey)
		assert.Equal(t, "application/json", d.ContentType)
		var got events.JobEvent
		require.NoError(t, json.Unmarshal(d.Body, &got))
		assert.Equal(t, "job-9", got.JobID)
		require.NotNil(t, got.RepCount)
		assert.Equal(t, 4, *got.RepCount)
	case <-time.After(10 * time.Second):
		t.Fatal("no delivery received")
	}
}
