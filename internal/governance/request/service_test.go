package request

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datahub.migas.id/clearinghouse/internal/domain"
	"datahub.migas.id/clearinghouse/internal/governance/audit"
	"datahub.migas.id/clearinghouse/internal/testutil"
)

var (
	analyst  = domain.Actor{UserID: "analyst", Role: "requester"}
	reviewer = domain.Actor{UserID: "reviewer", Role: "data_steward"}
)

func newService(t *testing.T) (*Service, *audit.Logger) {
	t.Helper()
	store := testutil.OpenSQLite(t)
	auditLogger := audit.NewLogger(store)
	return NewService(store, auditLogger, nil), auditLogger
}

func submit(t *testing.T, s *Service) *domain.RequestActionAuditLog {
	t.Helper()
	rec, err := s.Submit(context.Background(), Input{
		RequestType:   "dataset_access",
		DatasetID:     "ds-seismic-2d",
		Justification: "basin study",
	}, analyst)
	require.NoError(t, err)
	return rec
}

func TestSubmit(t *testing.T) {
	s, auditLogger := newService(t)
	rec := submit(t, s)

	assert.Equal(t, domain.RequestPending, rec.Status)
	assert.Equal(t, domain.ActionSubmit, rec.Action)
	assert.Equal(t, "analyst", rec.RequesterID)
	assert.Equal(t, "basin study", rec.Reason)

	events, err := auditLogger.ListByEntity(context.Background(), "request", rec.RequestID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "REQUEST_SUBMIT", events[0].Action)

	_, err = s.Submit(context.Background(), Input{DatasetID: "x"}, analyst)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = s.Submit(context.Background(), Input{RequestType: "x"}, analyst)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestApproveThenDeliver(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	rec := submit(t, s)

	approved, err := s.Approve(ctx, rec.RequestID, reviewer, "ok")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestApproved, approved.Status)
	assert.Equal(t, "reviewer", approved.ActorID)
	assert.Equal(t, "analyst", approved.RequesterID)

	delivered, err := s.Deliver(ctx, rec.RequestID, reviewer, "sftp")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestDelivered, delivered.Status)

	_, err = s.Cancel(ctx, rec.RequestID, analyst)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	history, err := s.History(ctx, rec.RequestID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []domain.RequestAction{domain.ActionSubmit, domain.ActionApprove, domain.ActionDeliver},
		[]domain.RequestAction{history[0].Action, history[1].Action, history[2].Action})
}

func TestGuards(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		act     func(id string) error
		wantErr error
	}{
		{"self approval", func(id string) error { _, err := s.Approve(ctx, id, analyst, ""); return err }, domain.ErrSelfApproval},
		{"self rejection", func(id string) error { _, err := s.Reject(ctx, id, analyst, "no"); return err }, domain.ErrSelfApproval},
		{"reject without reason", func(id string) error { _, err := s.Reject(ctx, id, reviewer, " "); return err }, domain.ErrInvalidInput},
		{"cancel by someone else", func(id string) error { _, err := s.Cancel(ctx, id, reviewer); return err }, domain.ErrNotRequester},
		{"self delivery", func(id string) error { _, err := s.Deliver(ctx, id, analyst, ""); return err }, domain.ErrSelfApproval},
		{"deliver before approval", func(id string) error { _, err := s.Deliver(ctx, id, reviewer, ""); return err }, domain.ErrInvalidTransition},
		{"unknown request", func(string) error { _, err := s.Approve(ctx, "missing", reviewer, ""); return err }, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := submit(t, s)
			assert.ErrorIs(t, tt.act(rec.RequestID), tt.wantErr)

			cur, err := s.Current(ctx, rec.RequestID)
			require.NoError(t, err)
			assert.Equal(t, domain.RequestPending, cur.Status)
		})
	}
}

func TestRequesterCannotDeliverApproved(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	rec := submit(t, s)

	_, err := s.Approve(ctx, rec.RequestID, reviewer, "ok")
	require.NoError(t, err)

	_, err = s.Deliver(ctx, rec.RequestID, analyst, "self")
	assert.ErrorIs(t, err, domain.ErrSelfApproval)

	cur, err := s.Current(ctx, rec.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestApproved, cur.Status)
}

func TestRejectedCannotBeDelivered(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	rec := submit(t, s)

	_, err := s.Reject(ctx, rec.RequestID, reviewer, "out of scope")
	require.NoError(t, err)
	_, err = s.Deliver(ctx, rec.RequestID, reviewer, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestListPending_Priority(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	first := submit(t, s)
	second := submit(t, s)
	cancelled := submit(t, s)
	_, err := s.Cancel(ctx, cancelled.RequestID, analyst)
	require.NoError(t, err)

	s.now = func() time.Time { return first.Timestamp.Add(5 * 24 * time.Hour) }

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.RequestID, pending[0].Request.RequestID)
	assert.Equal(t, second.RequestID, pending[1].Request.RequestID)
	assert.Equal(t, domain.PriorityWarning, pending[0].Priority)
	assert.Equal(t, 5, pending[0].PendingDays)

	s.now = func() time.Time { return first.Timestamp.Add(8 * 24 * time.Hour) }
	pending, err = s.ListPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityUrgent, pending[0].Priority)
}

func TestList_FilterByRequesterAndStatus(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	rec := submit(t, s)
	submit(t, s)
	_, err := s.Approve(ctx, rec.RequestID, reviewer, "")
	require.NoError(t, err)

	page, err := s.List(ctx, domain.ListFilter{UserID: "analyst"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)

	approved, err := s.List(ctx, domain.ListFilter{Status: string(domain.RequestApproved)})
	require.NoError(t, err)
	require.Len(t, approved.Items, 1)
	assert.Equal(t, rec.RequestID, approved.Items[0].RequestID)

	_, err = s.List(ctx, domain.ListFilter{Status: "LOST"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	report, err := s.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, int64(3), report.Checked)
}
