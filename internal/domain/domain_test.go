package domain

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datahub.migas.id/clearinghouse/internal/integrity"
)

func TestUploadStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to UploadStatus
		want     bool
	}{
		{UploadInitiated, UploadCompleted, true},
		{UploadInitiated, UploadFailed, true},
		{UploadInitiated, UploadQuarantined, true},
		{UploadInitiated, UploadInitiated, false},
		{UploadCompleted, UploadQuarantined, false},
		{UploadFailed, UploadCompleted, false},
		{UploadQuarantined, UploadCompleted, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}

	assert.False(t, UploadInitiated.Terminal())
	assert.True(t, UploadCompleted.Terminal())
	assert.True(t, UploadFailed.Terminal())
	assert.True(t, UploadQuarantined.Terminal())
	assert.False(t, UploadStatus("BOGUS").Terminal())
}

func TestRequestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to RequestStatus
		want     bool
	}{
		{RequestPending, RequestApproved, true},
		{RequestPending, RequestRejected, true},
		{RequestPending, RequestCancelled, true},
		{RequestPending, RequestDelivered, false},
		{RequestApproved, RequestDelivered, true},
		{RequestApproved, RequestRejected, false},
		{RequestRejected, RequestDelivered, false},
		{RequestCancelled, RequestApproved, false},
		{RequestDelivered, RequestPending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestLicenseStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to LicenseStatus
		want     bool
	}{
		{LicenseIssued, LicenseActive, true},
		{LicenseIssued, LicenseSuspended, false},
		{LicenseActive, LicenseSuspended, true},
		{LicenseSuspended, LicenseActive, true},
		{LicenseActive, LicenseExpired, true},
		{LicenseExpired, LicenseActive, true},
		{LicenseExpired, LicenseSuspended, false},
		{LicenseExpired, LicenseRevoked, true},
		{LicenseRevoked, LicenseActive, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestRequestActionAuditLog_Next(t *testing.T) {
	pending := &RequestActionAuditLog{
		RequestID:   "req-1",
		RequestType: "DATASET_ACCESS",
		DatasetID:   "ds-1",
		Action:      ActionSubmit,
		Status:      RequestPending,
		RequesterID: "alice",
		ActorID:     "alice",
	}

	approved, err := pending.Next(ActionApprove, "bob", "ok")
	require.NoError(t, err)
	assert.Equal(t, RequestApproved, approved.Status)
	assert.Equal(t, "req-1", approved.RequestID)
	assert.Equal(t, "alice", approved.RequesterID)
	assert.Equal(t, "bob", approved.ActorID)

	_, err = approved.Next(ActionReject, "bob", "late")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = pending.Next(RequestAction("ESCALATE"), "bob", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestPendingPriority(t *testing.T) {
	now := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		age  time.Duration
		want Priority
	}{
		{"fresh", time.Hour, PriorityNormal},
		{"just under four days", 4*24*time.Hour - time.Second, PriorityNormal},
		{"four days", 4 * 24 * time.Hour, PriorityWarning},
		{"six days", 6 * 24 * time.Hour, PriorityWarning},
		{"seven days", 7 * 24 * time.Hour, PriorityUrgent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PendingPriority(now.Add(-tt.age), now))
		})
	}
}

func TestComplianceAuditLog_SealAndVerify(t *testing.T) {
	rec := &ComplianceAuditLog{
		ID:        NewID(),
		EventType: EventDataExport,
		Action:    "EXPORT_WELL_LOGS",
		Severity:  SeverityInfo,
		Outcome:   OutcomeSuccess,
		UserID:    "u-1",
		Metadata:  map[string]any{"rows": 120},
		Timestamp: Now(),
	}
	require.NoError(t, rec.Seal(1, integrity.GenesisHash))
	require.Len(t, rec.IntegrityHash, 64)

	// id and timestamp are volatile.
	rec.ID = NewID()
	rec.Timestamp = rec.Timestamp.Add(time.Hour)
	h, err := rec.ComputeHash()
	require.NoError(t, err)
	assert.Equal(t, rec.IntegrityHash, h)

	rec.Description = "edited"
	h, err = rec.ComputeHash()
	require.NoError(t, err)
	assert.NotEqual(t, rec.IntegrityHash, h)
}

func TestComplianceAuditLog_EmptyMetadataHashesLikeNil(t *testing.T) {
	a := &ComplianceAuditLog{EventType: EventSystem, Action: "BOOT", UserID: "system"}
	b := &ComplianceAuditLog{EventType: EventSystem, Action: "BOOT", UserID: "system", Metadata: map[string]any{}}
	require.NoError(t, a.Seal(1, ""))
	require.NoError(t, b.Seal(1, ""))
	assert.Equal(t, a.IntegrityHash, b.IntegrityHash)
}

func TestUploadNext_CopiesImmutableAttributes(t *testing.T) {
	initiated := &ResourceUploadAuditLog{
		UploadID:     "up-1",
		ResourceType: "WELL_LOG",
		ResourceID:   "well-7",
		FileName:     "gr.las",
		FileSize:     2048,
		ContentType:  "text/plain",
		Checksum:     "abc",
		Status:       UploadInitiated,
		UserID:       "alice",
		Metadata:     map[string]any{"basin": "Kutai"},
	}
	next := initiated.Next(UploadFailed, "system", ReasonStaleUpload)

	assert.Equal(t, "up-1", next.UploadID)
	assert.Equal(t, "gr.las", next.FileName)
	assert.Equal(t, int64(2048), next.FileSize)
	assert.Equal(t, UploadFailed, next.Status)
	assert.Equal(t, ReasonStaleUpload, next.Reason)
	assert.Equal(t, "system", next.UserID)
	assert.Nil(t, next.Metadata)
	assert.NotEqual(t, initiated.ID, next.ID)
}

func TestLicense_CheckUsable(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	base := License{
		ValidFrom: now.AddDate(0, -1, 0),
		ExpiresAt: now.AddDate(1, 0, 0),
	}

	tests := []struct {
		name        string
		status      LicenseStatus
		at          time.Time
		allowIssued bool
		want        error
	}{
		{"active", LicenseActive, now, false, nil},
		{"issued for activation", LicenseIssued, now, true, nil},
		{"issued for metering", LicenseIssued, now, false, ErrLicenseInactive},
		{"suspended", LicenseSuspended, now, true, ErrLicenseInactive},
		{"revoked", LicenseRevoked, now, true, ErrLicenseInactive},
		{"expired status", LicenseExpired, now, true, ErrLicenseExpired},
		{"past expiry", LicenseActive, base.ExpiresAt, false, ErrLicenseExpired},
		{"before valid_from", LicenseActive, base.ValidFrom.Add(-time.Second), false, ErrLicenseExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := base
			l.Status = tt.status
			err := l.CheckUsable(tt.at, tt.allowIssued)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
		})
	}
}

func TestUsagePeriod(t *testing.T) {
	at := time.Date(2026, 12, 31, 23, 0, 0, 0, time.FixedZone("WIT", 9*3600))
	start, end := UsagePeriod(at)
	assert.Equal(t, time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestNewUsageSummary(t *testing.T) {
	at := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	s := NewUsageSummary("lic-1", at,
		map[string]int64{"downloads": 10, "api_calls": 100},
		map[string]int64{"downloads": 12},
	)

	require.Len(t, s.Metrics, 2)
	assert.Equal(t, MetricUsage{Metric: "api_calls", Used: 0, Limit: 100, Remaining: 100}, s.Metrics[0])
	assert.Equal(t, MetricUsage{Metric: "downloads", Used: 12, Limit: 10, Remaining: 0}, s.Metrics[1])
}

func TestListFilter_Normalize(t *testing.T) {
	f := ListFilter{Page: 0, PerPage: 1000}
	f.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, 100, f.PerPage)
	assert.Equal(t, 0, f.Offset())

	f = ListFilter{Page: 3, PerPage: 0}
	f.Normalize()
	assert.Equal(t, 20, f.PerPage)
	assert.Equal(t, 40, f.Offset())
}

func TestNewDomainEvent(t *testing.T) {
	payload := UploadEventPayload{UploadID: "up-1", ResourceType: "SEISMIC", Status: UploadCompleted, Sequence: 9}
	ev, err := NewDomainEvent(EventUploadCompleted, "upload", "up-1", "alice", payload)
	require.NoError(t, err)

	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, EventUploadCompleted, ev.EventType)

	var decoded UploadEventPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &decoded))
	assert.Equal(t, payload, decoded)
}

func TestEventDispatcher_Dispatch(t *testing.T) {
	d := NewEventDispatcher()

	var specific, all int
	d.Register(EventLicenseIssued, func(context.Context, *DomainEvent) error {
		specific++
		return nil
	})
	d.RegisterAll(func(context.Context, *DomainEvent) error {
		all++
		return errors.New("sink down")
	})

	err := d.Dispatch(context.Background(), &DomainEvent{EventType: EventLicenseIssued})
	require.Error(t, err)
	assert.Equal(t, 1, specific)
	assert.Equal(t, 1, all)

	err = d.Dispatch(context.Background(), &DomainEvent{EventType: EventUploadFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink down")
	assert.Equal(t, 1, specific)
	assert.Equal(t, 2, all)

	assert.Error(t, d.Dispatch(context.Background(), nil))
}

func TestEventMappings(t *testing.T) {
	assert.Equal(t, EventUploadQuarantined, UploadEventFor(UploadQuarantined))
	assert.Equal(t, EventUploadInitiated, UploadEventFor(UploadInitiated))
	assert.Equal(t, EventRequestDelivered, RequestEventFor(RequestDelivered))
	assert.Equal(t, EventRequestSubmitted, RequestEventFor(RequestPending))
}
