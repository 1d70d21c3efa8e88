package notification

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datahub.migas.id/clearinghouse/internal/config"
	"datahub.migas.id/clearinghouse/internal/domain"
)

func runJetStream(t *testing.T) string {
	t.Helper()

	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      server.RANDOM_PORT,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	})
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns.ClientURL()
}

func TestSubject(t *testing.T) {
	event := &domain.DomainEvent{EventType: domain.EventUploadQuarantined, AggregateType: "upload"}
	assert.Equal(t, "clearinghouse.upload.upload_quarantined", Subject("clearinghouse", event))
}

func TestJetStreamPublisher_PublishDeduplicates(t *testing.T) {
	ctx := context.Background()
	url := runJetStream(t)

	cfg := config.EventsConfig{
		Enabled:        true,
		NATSURL:        url,
		Stream:         "CH_TEST",
		SubjectPrefix:  "chtest",
		PublishTimeout: 5 * time.Second,
	}
	p, err := NewJetStreamPublisher(ctx, cfg)
	require.NoError(t, err)
	defer p.Close()

	event, err := domain.NewDomainEvent(domain.EventRequestApproved, "request", "rq-1", "approver",
		domain.RequestEventPayload{RequestID: "rq-1", Status: domain.RequestApproved, Sequence: 2})
	require.NoError(t, err)

	require.NoError(t, p.Publish(ctx, event))
	require.NoError(t, p.Publish(ctx, event))

	stream, err := p.js.Stream(ctx, cfg.Stream)
	require.NoError(t, err)
	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.State.Msgs)

	raw, err := stream.GetLastMsgForSubject(ctx, "chtest.request.request_approved")
	require.NoError(t, err)
	assert.Equal(t, event.EventID, raw.Header.Get(headerMsgID))

	var got domain.DomainEvent
	require.NoError(t, json.Unmarshal(raw.Data, &got))
	assert.Equal(t, event.EventID, got.EventID)
	assert.Equal(t, "rq-1", got.AggregateID)
}

func TestJetStreamPublisher_ReusesExistingStream(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventsConfig{NATSURL: runJetStream(t), Stream: "CH_TEST", SubjectPrefix: "chtest"}

	first, err := NewJetStreamPublisher(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewJetStreamPublisher(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestNewJetStreamPublisher_Unreachable(t *testing.T) {
	_, err := NewJetStreamPublisher(context.Background(), config.EventsConfig{
		NATSURL:       "nats://127.0.0.1:1",
		Stream:        "CH_TEST",
		SubjectPrefix: "chtest",
	})
	assert.Error(t, err)
}
