package intentService

import (
	intentRepository "VoiceBridge/internal/api/intent/repository"
	"VoiceBridge/internal/entity"
	"VoiceBridge/pkg/utils"
	"VoiceBridge/pkg/zapier"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWebhook struct {
	calls    atomic.Int32
	delay    time.Duration
	mu       sync.Mutex
	failNext error
	failAll  error
	payloads []zapier.AppointmentPayload
}

func (f *fakeWebhook) SendAppointment(ctx context.Context, payload zapier.AppointmentPayload) (*zapier.WebhookResponse, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	if f.failAll != nil {
		return nil, f.failAll
	}
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}
	return &zapier.WebhookResponse{
		StatusCode: http.StatusOK,
		Body:       map[string]interface{}{"calendar_link": "https://cal.example/e/1"},
	}, nil
}

func newTestService(hook zapier.IWebhook) IIntentService {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewIntentService(logger, intentRepository.NewMemoryRecordStore(), nil, hook, utils.New(),
		WithDispatchTimeout(time.Second), WithLockTimeout(5*time.Second))
}

func appointmentInvocation() *entity.ToolInvocation {
	return &entity.ToolInvocation{
		Kind:          entity.ToolCreateAppointment,
		Name:          "create_appointment",
		CorrelationID: "call_1",
		RawArguments: map[string]interface{}{
			"title":          "Consult",
			"start_time":     "2024-12-20T14:00:00Z",
			"end_time":       "2024-12-20T15:00:00Z",
			"attendee_email": "jane@example.com",
		},
	}
}

func TestCreateAppointmentDispatchesOnce(t *testing.T) {
	hook := &fakeWebhook{}
	svc := newTestService(hook)

	first := svc.Handle(context.Background(), appointmentInvocation())
	require.Equal(t, entity.OutcomeSuccess, first.Status)
	assert.False(t, first.IsDuplicate)
	assert.Equal(t, "https://cal.example/e/1", first.CalendarLink)
	assert.Contains(t, first.Message, "jane@example.com")

	second := svc.Handle(context.Background(), appointmentInvocation())
	require.Equal(t, entity.OutcomeSuccess, second.Status)
	assert.True(t, second.IsDuplicate)
	assert.Equal(t, first.AppointmentID, second.AppointmentID)
	assert.Equal(t, first.IdempotencyKey, second.IdempotencyKey)

	assert.EqualValues(t, 1, hook.calls.Load())
	assert.EqualValues(t, 1, svc.Stats().Duplicates)
}

func TestConcurrentSubmissionsDispatchOnce(t *testing.T) {
	hook := &fakeWebhook{delay: 50 * time.Millisecond}
	svc := newTestService(hook)

	const n = 8
	outcomes := make([]entity.Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = svc.Handle(context.Background(), appointmentInvocation())
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, hook.calls.Load())

	originals := 0
	for _, out := range outcomes {
		require.Equal(t, entity.OutcomeSuccess, out.Status)
		assert.Equal(t, outcomes[0].AppointmentID, out.AppointmentID)
		if !out.IsDuplicate {
			originals++
		}
	}
	assert.Equal(t, 1, originals)
	assert.Equal(t, 0, svc.Stats().InFlight)
}

func TestConcurrentSubmissionsShareFailedDispatch(t *testing.T) {
	hook := &fakeWebhook{
		delay:   50 * time.Millisecond,
		failAll: &zapier.StatusError{StatusCode: http.StatusServiceUnavailable},
	}
	svc := newTestService(hook)

	const n = 5
	outcomes := make([]entity.Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = svc.Handle(context.Background(), appointmentInvocation())
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, hook.calls.Load())

	originals := 0
	for _, out := range outcomes {
		require.Equal(t, entity.OutcomeDispatchFailed, out.Status)
		assert.True(t, out.Retryable)
		assert.Equal(t, outcomes[0].IdempotencyKey, out.IdempotencyKey)
		if !out.IsDuplicate {
			originals++
		}
	}
	assert.Equal(t, 1, originals)

	// A retry after the failure settled dispatches again.
	hook.mu.Lock()
	hook.failAll = nil
	hook.mu.Unlock()

	retried := svc.Handle(context.Background(), appointmentInvocation())
	require.Equal(t, entity.OutcomeSuccess, retried.Status)
	assert.False(t, retried.IsDuplicate)
	assert.EqualValues(t, 2, hook.calls.Load())
}

func TestMissingEmailIsRejectedWithoutDispatch(t *testing.T) {
	hook := &fakeWebhook{}
	svc := newTestService(hook)

	inv := appointmentInvocation()
	delete(inv.RawArguments, "attendee_email")

	out := svc.Handle(context.Background(), inv)
	require.Equal(t, entity.OutcomeValidationRejected, out.Status)
	assert.Equal(t, []string{"attendeeEmail"}, out.MissingFields)
	assert.Empty(t, out.InvalidFields)
	assert.True(t, out.Retryable)
	assert.Contains(t, out.Clarification, "attendee_email")
	assert.EqualValues(t, 0, hook.calls.Load())

	stats := svc.Stats()
	assert.EqualValues(t, 1, stats.ValidationFailures)
	require.Len(t, stats.RecentRejections, 1)
	assert.Equal(t, []string{"attendeeEmail"}, stats.RecentRejections[0].MissingFields)
}

func TestFailedDispatchIsRetried(t *testing.T) {
	hook := &fakeWebhook{failNext: &zapier.StatusError{StatusCode: http.StatusServiceUnavailable}}
	svc := newTestService(hook)

	failed := svc.Handle(context.Background(), appointmentInvocation())
	require.Equal(t, entity.OutcomeDispatchFailed, failed.Status)
	assert.True(t, failed.Retryable)
	assert.Equal(t, false, failed.ToolResult()["success"])

	retried := svc.Handle(context.Background(), appointmentInvocation())
	require.Equal(t, entity.OutcomeSuccess, retried.Status)
	assert.False(t, retried.IsDuplicate)
	assert.EqualValues(t, 2, hook.calls.Load())
}

func TestPendingRecordIsNotDispatchedAgain(t *testing.T) {
	hook := &fakeWebhook{}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	records := intentRepository.NewMemoryRecordStore()
	svc := NewIntentService(logger, records, nil, hook, utils.New())

	inv := appointmentInvocation()
	require.Nil(t, svc.Validate(inv))
	key := IdempotencyKey(inv.Kind, inv.Validated.(*entity.AppointmentArguments))
	require.NoError(t, records.Put(context.Background(), entity.IdempotencyRecord{Key: key, Status: entity.RecordPending}))

	out := svc.Execute(context.Background(), *inv)
	assert.Equal(t, entity.OutcomeDispatchFailed, out.Status)
	assert.True(t, out.IsDuplicate)
	assert.False(t, out.Retryable)
	assert.EqualValues(t, 0, hook.calls.Load())
}

func TestCancelledCallerStillCompletesDispatch(t *testing.T) {
	hook := &fakeWebhook{delay: 20 * time.Millisecond}
	svc := newTestService(hook)

	ctx, cancel := context.WithCancel(context.Background())
	inv := appointmentInvocation()
	require.Nil(t, svc.Validate(inv))

	done := make(chan entity.Outcome, 1)
	go func() { done <- svc.Execute(ctx, *inv) }()
	time.Sleep(5 * time.Millisecond)
	cancel()

	out := <-done
	assert.Equal(t, entity.OutcomeSuccess, out.Status)

	again := svc.Handle(context.Background(), appointmentInvocation())
	assert.True(t, again.IsDuplicate)
	assert.EqualValues(t, 1, hook.calls.Load())
}

func TestIdempotencyKeyIgnoresDescription(t *testing.T) {
	start := time.Date(2024, 12, 20, 14, 0, 0, 0, time.UTC)
	base := &entity.AppointmentArguments{
		Title:         "Consult",
		StartTime:     start,
		EndTime:       start.Add(time.Hour),
		AttendeeEmail: "jane@example.com",
	}
	withDescription := *base
	withDescription.Description = "bring documents"
	otherTime := *base
	otherTime.StartTime = start.Add(30 * time.Minute)

	key := IdempotencyKey(entity.ToolCreateAppointment, base)
	assert.Len(t, key, 64)
	assert.Equal(t, key, IdempotencyKey(entity.ToolCreateAppointment, &withDescription))
	assert.NotEqual(t, key, IdempotencyKey(entity.ToolCreateAppointment, &otherTime))
}

func TestImmediateTools(t *testing.T) {
	hook := &fakeWebhook{}
	svc := newTestService(hook)

	tests := []struct {
		name string
		kind entity.ToolKind
		args map[string]interface{}
	}{
		{name: "escalate", kind: entity.ToolEscalateCall, args: map[string]interface{}{"reason": "angry caller"}},
		{name: "intake", kind: entity.ToolCompleteIntake, args: map[string]interface{}{"structured_data": `{"issue":"leak"}`}},
		{name: "end call", kind: entity.ToolEndCall, args: map[string]interface{}{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &entity.ToolInvocation{Kind: tt.kind, Name: tt.kind.String(), RawArguments: tt.args}
			out := svc.Handle(context.Background(), inv)
			assert.Equal(t, entity.OutcomeSuccess, out.Status)
		})
	}
	assert.EqualValues(t, 0, hook.calls.Load())
}

func TestEscalationDefaultsUrgency(t *testing.T) {
	svc := newTestService(&fakeWebhook{})

	inv := &entity.ToolInvocation{Kind: entity.ToolEscalateCall, Name: "escalate_call", RawArguments: map[string]interface{}{}}
	out := svc.Handle(context.Background(), inv)
	require.Equal(t, entity.OutcomeSuccess, out.Status)
	assert.Equal(t, "medium", out.Data["urgency"])
}

func TestUnknownToolIsNotRetryable(t *testing.T) {
	svc := newTestService(&fakeWebhook{})

	out := svc.Handle(context.Background(), &entity.ToolInvocation{Name: "transfer_funds"})
	assert.Equal(t, entity.OutcomeValidationRejected, out.Status)
	assert.False(t, out.Retryable)
}

func TestKeyLockerReleasesEntries(t *testing.T) {
	locks := newKeyLocker()

	release, err := locks.acquire(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 1, locks.inFlight())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locks.acquire(ctx, "k")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	release()
	release()
	assert.Equal(t, 0, locks.inFlight())
}
