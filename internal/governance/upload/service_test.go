package upload

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datahub.migas.id/clearinghouse/internal/domain"
	"datahub.migas.id/clearinghouse/internal/governance/audit"
	"datahub.migas.id/clearinghouse/internal/notification"
	"datahub.migas.id/clearinghouse/internal/testutil"
)

var uploader = domain.Actor{UserID: "kkks-operator", Role: "uploader", IPAddress: "10.1.2.3"}

type capture struct{ events []*domain.DomainEvent }

func (c *capture) Publish(_ context.Context, e *domain.DomainEvent) error {
	c.events = append(c.events, e)
	return nil
}
func (c *capture) Close() error { return nil }

func newService(t *testing.T) (*Service, *audit.Logger, *capture) {
	t.Helper()
	store := testutil.OpenSQLite(t)
	auditLogger := audit.NewLogger(store)
	pub := &capture{}
	d := domain.NewEventDispatcher()
	d.RegisterAll(notification.Handler(pub))
	return NewService(store, auditLogger, notification.NewTriggers(d, nil)), auditLogger, pub
}

func initiate(t *testing.T, s *Service, checksum string) *domain.ResourceUploadAuditLog {
	t.Helper()
	rec, err := s.Initiate(context.Background(), Input{
		ResourceType: "well_log",
		ResourceID:   "well-42",
		FileName:     "gr.las",
		FileSize:     2048,
		ContentType:  "text/plain",
		Checksum:     checksum,
		Metadata:     map[string]any{"block": "Mahakam"},
	}, uploader)
	require.NoError(t, err)
	return rec
}

func TestInitiate(t *testing.T) {
	s, auditLogger, pub := newService(t)
	rec := initiate(t, s, " ABCDEF ")

	assert.Equal(t, domain.UploadInitiated, rec.Status)
	assert.Equal(t, "abcdef", rec.Checksum)
	assert.Equal(t, int64(1), rec.Sequence)
	assert.Equal(t, "10.1.2.3", rec.IPAddress)

	events, err := auditLogger.ListByEntity(context.Background(), "upload", rec.UploadID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "UPLOAD_INITIATED", events[0].Action)

	require.Len(t, pub.events, 1)
	assert.Equal(t, domain.EventUploadInitiated, pub.events[0].EventType)
}

func TestInitiate_Validation(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		in    Input
		actor domain.Actor
	}{
		{"missing resource type", Input{FileName: "a"}, uploader},
		{"missing file name", Input{ResourceType: "seismic"}, uploader},
		{"negative size", Input{ResourceType: "seismic", FileName: "a", FileSize: -1}, uploader},
		{"anonymous", Input{ResourceType: "seismic", FileName: "a"}, domain.Actor{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Initiate(ctx, tt.in, tt.actor)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestComplete(t *testing.T) {
	tests := []struct {
		name         string
		declared     string
		given        string
		wantStatus   domain.UploadStatus
		wantReason   string
		wantChecksum string
	}{
		{"matching checksum", "abc123", "ABC123", domain.UploadCompleted, "", "abc123"},
		{"mismatch quarantines", "abc123", "ffff", domain.UploadQuarantined, domain.ReasonChecksumMismatch, "abc123"},
		{"no checksum given", "abc123", "", domain.UploadCompleted, "", "abc123"},
		{"checksum supplied at completion", "", "beef", domain.UploadCompleted, "", "beef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newService(t)
			rec := initiate(t, s, tt.declared)

			done, err := s.Complete(context.Background(), rec.UploadID, uploader, tt.given)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, done.Status)
			assert.Equal(t, tt.wantReason, done.Reason)
			assert.Equal(t, tt.wantChecksum, done.Checksum)
			assert.Equal(t, rec.IntegrityHash, done.PreviousHash)
			assert.Equal(t, rec.FileName, done.FileName)
		})
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()
	rec := initiate(t, s, "")

	_, err := s.Fail(ctx, rec.UploadID, uploader, "network reset")
	require.NoError(t, err)

	_, err = s.Complete(ctx, rec.UploadID, uploader, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = s.Quarantine(ctx, rec.UploadID, uploader, "virus")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	cur, err := s.Current(ctx, rec.UploadID)
	require.NoError(t, err)
	assert.Equal(t, domain.UploadFailed, cur.Status)

	history, err := s.History(ctx, rec.UploadID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestFail_RequiresReasonAndKnownUpload(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()
	rec := initiate(t, s, "")

	_, err := s.Fail(ctx, rec.UploadID, uploader, "  ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = s.Quarantine(ctx, "missing", uploader, "virus")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.History(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestList_CurrentStateOnly(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()
	a := initiate(t, s, "")
	initiate(t, s, "")
	_, err := s.Complete(ctx, a.UploadID, uploader, "")
	require.NoError(t, err)

	page, err := s.List(ctx, domain.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)

	completed, err := s.List(ctx, domain.ListFilter{Status: string(domain.UploadCompleted)})
	require.NoError(t, err)
	require.Len(t, completed.Items, 1)
	assert.Equal(t, a.UploadID, completed.Items[0].UploadID)

	_, err = s.List(ctx, domain.ListFilter{Status: "DONE"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSweepStale(t *testing.T) {
	s, _, pub := newService(t)
	ctx := context.Background()
	stale := initiate(t, s, "")
	done := initiate(t, s, "")
	_, err := s.Complete(ctx, done.UploadID, uploader, "")
	require.NoError(t, err)

	n, err := s.SweepStale(ctx, time.Now().Add(time.Hour), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nothing is older than a day yet")

	n, err = s.SweepStale(ctx, time.Now().Add(48*time.Hour), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cur, err := s.Current(ctx, stale.UploadID)
	require.NoError(t, err)
	assert.Equal(t, domain.UploadFailed, cur.Status)
	assert.Equal(t, domain.ReasonStaleUpload, cur.Reason)
	assert.Equal(t, domain.SystemActor.UserID, cur.UserID)

	last := pub.events[len(pub.events)-1]
	assert.Equal(t, domain.EventUploadFailed, last.EventType)

	report, err := s.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, int64(4), report.Checked)
}
