package callService

import (
	"VoiceBridge/internal/api/call"
	"VoiceBridge/internal/api/intent"
	"VoiceBridge/internal/entity"
	"VoiceBridge/pkg/audio"
	contextPkg "VoiceBridge/pkg/context"
	"VoiceBridge/pkg/metrics"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultListLimit = 50

type transcriptArchive struct {
	CallID         string                   `json:"call_id"`
	OrganizationID string                   `json:"organization_id"`
	SessionID      string                   `json:"session_id"`
	FinalState     string                   `json:"final_state"`
	Error          string                   `json:"error,omitempty"`
	StartedAt      time.Time                `json:"started_at"`
	EndedAt        time.Time                `json:"ended_at"`
	Transcript     []entity.TranscriptEntry `json:"transcript"`
}

func (s *callService) StartCall(ctx context.Context, req call.StartCallRequest) (call.StartCallResponse, error) {
	requestID := contextPkg.GetRequestID(ctx)

	client, err := s.repo.NewClient(false)
	if err != nil {
		return call.StartCallResponse{}, err
	}

	org, err := client.Organizations.GetOrganizationByID(ctx, req.OrganizationID)
	if err != nil {
		return call.StartCallResponse{}, err
	}

	tools, err := intent.ToolSchema()
	if err != nil {
		return call.StartCallResponse{}, fmt.Errorf("failed to build tool schema: %w", err)
	}

	secret, err := s.provisioner.CreateClientSecret(ctx)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id":      requestID,
			"organization_id": org.ID,
			"error":           err.Error(),
		}).Error("Failed to provision realtime session")
		return call.StartCallResponse{}, call.ErrProvisioningFailed
	}

	now := time.Now().UTC()
	callID := s.utils.NewUUID()
	sessionID, err := s.utils.NewULIDFromTimestamp(now)
	if err != nil {
		sessionID = s.utils.NewUUID()
	}

	if err := client.Calls.CreateCall(ctx, entity.Call{
		ID:             callID,
		OrganizationID: org.ID,
		SessionID:      sessionID,
		Status:         entity.CallStatusActive,
		StartedAt:      now,
	}); err != nil {
		return call.StartCallResponse{}, err
	}

	var bridge *Bridge
	hooks := BridgeHooks{
		OnTranscript: s.persistTranscript,
		OnFinished: func(state entity.ConnectionState, cause error) {
			s.finishCall(bridge, state, cause)
		},
	}
	opts := append(append([]BridgeOption{}, s.bridgeOpts...), WithHooks(hooks))

	bridge = NewBridge(s.log, s.dialer, s.intents,
		entity.CallSession{
			SessionID:      sessionID,
			CallID:         callID,
			OrganizationID: org.ID,
			StartedAt:      now,
		},
		entity.RealtimeSession{
			SessionID:           sessionID,
			EphemeralCredential: secret.Value,
			ExpiresAt:           secret.ExpiresAt,
			Instructions:        org.Instructions,
			ToolSchema:          tools,
		},
		secret.Voice,
		opts...,
	)

	s.mu.Lock()
	s.bridges[callID] = bridge
	s.mu.Unlock()

	wait := s.attachTimeout
	if untilExpiry := time.Until(secret.ExpiresAt); untilExpiry < wait {
		wait = untilExpiry
	}
	time.AfterFunc(wait, func() {
		if !bridge.Attached() {
			s.log.WithField("call_id", callID).Warn("No device attached in time, ending call")
			bridge.EndCall()
		}
	})

	s.log.WithFields(logrus.Fields{
		"request_id":      requestID,
		"call_id":         callID,
		"organization_id": org.ID,
	}).Info("Call started")

	return call.StartCallResponse{
		CallID:       callID,
		SessionID:    sessionID,
		Status:       string(entity.CallStatusActive),
		WebsocketURL: fmt.Sprintf("/api/v1/calls/%s/ws", callID),
		ExpiresAt:    secret.ExpiresAt,
	}, nil
}

func (s *callService) AttachDevice(ctx context.Context, callID string, device audio.Device) error {
	bridge, ok := s.lookup(callID)
	if !ok {
		if _, _, err := s.GetCall(ctx, callID); err != nil {
			return err
		}
		return call.ErrCallNotActive
	}

	if bridge.Attached() {
		return call.ErrDeviceAlreadyAttached
	}
	if time.Now().After(bridge.ExpiresAt()) {
		bridge.EndCall()
		return call.ErrSessionExpired
	}

	err := bridge.Run(ctx, device)
	if errors.Is(err, ErrAlreadyRunning) {
		return call.ErrDeviceAlreadyAttached
	}
	return err
}

func (s *callService) EndCall(ctx context.Context, callID string) (entity.Call, error) {
	if bridge, ok := s.lookup(callID); ok {
		bridge.EndCall()
	} else {
		client, err := s.repo.NewClient(false)
		if err != nil {
			return entity.Call{}, err
		}
		// Calls whose realtime session lives in a browser have no bridge here.
		if err := client.Calls.FinishCall(ctx, callID, entity.CallStatusCompleted, "", time.Now().UTC()); err != nil {
			return entity.Call{}, err
		}
	}

	c, _, err := s.GetCall(ctx, callID)
	return c, err
}

func (s *callService) GetCall(ctx context.Context, callID string) (entity.Call, entity.ConnectionState, error) {
	client, err := s.repo.NewClient(false)
	if err != nil {
		return entity.Call{}, entity.StateIdle, err
	}

	c, err := client.Calls.GetCallByID(ctx, callID)
	if err != nil {
		return entity.Call{}, entity.StateIdle, err
	}

	if bridge, ok := s.lookup(callID); ok {
		return c, bridge.State(), nil
	}

	switch c.Status {
	case entity.CallStatusFailed:
		return c, entity.StateFailed, nil
	case entity.CallStatusCompleted:
		return c, entity.StateClosed, nil
	}
	return c, entity.StateIdle, nil
}

func (s *callService) ListCalls(ctx context.Context, query call.ListCallsQuery) ([]entity.Call, int, error) {
	client, err := s.repo.NewClient(false)
	if err != nil {
		return nil, 0, err
	}

	limit := query.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	return client.Calls.ListCalls(ctx, query.OrganizationID, limit, query.Offset)
}

func (s *callService) GetTranscript(ctx context.Context, callID string) ([]entity.TranscriptEntry, string, error) {
	client, err := s.repo.NewClient(false)
	if err != nil {
		return nil, "", err
	}

	c, err := client.Calls.GetCallByID(ctx, callID)
	if err != nil {
		return nil, "", err
	}

	entries, err := client.Transcripts.GetTranscriptByCallID(ctx, callID)
	if err != nil {
		return nil, "", err
	}

	archiveURL := ""
	if s.archive != nil && c.Status != entity.CallStatusActive {
		if url, err := s.archive.PresignTranscript(callID, c.StartedAt); err == nil {
			archiveURL = url
		} else {
			s.log.WithFields(logrus.Fields{
				"call_id": callID,
				"error":   err.Error(),
			}).Debug("Transcript archive not available")
		}
	}

	return entries, archiveURL, nil
}

func (s *callService) SaveTranscript(ctx context.Context, callID string, req call.SaveTranscriptRequest) (entity.TranscriptEntry, error) {
	client, err := s.repo.NewClient(false)
	if err != nil {
		return entity.TranscriptEntry{}, err
	}

	if _, err := client.Calls.GetCallByID(ctx, callID); err != nil {
		return entity.TranscriptEntry{}, err
	}

	now := time.Now().UTC()
	id, err := s.utils.NewULIDFromTimestamp(now)
	if err != nil {
		id = s.utils.NewUUID()
	}

	entry := entity.TranscriptEntry{
		ID:        id,
		CallID:    callID,
		Speaker:   entity.Speaker(req.Speaker),
		Text:      req.Text,
		CreatedAt: now,
	}
	if err := client.Transcripts.AppendTranscript(ctx, entry); err != nil {
		return entity.TranscriptEntry{}, err
	}

	return entry, nil
}

func (s *callService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	bridges := make([]*Bridge, 0, len(s.bridges))
	for _, b := range s.bridges {
		bridges = append(bridges, b)
	}
	s.mu.Unlock()

	for _, b := range bridges {
		b.EndCall()
	}

	done := make(chan struct{})
	go func() {
		for _, b := range bridges {
			b.WaitDispatch()
		}
		s.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("Shutdown deadline reached with call bookkeeping still pending")
	}
}

func (s *callService) lookup(callID string) (*Bridge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bridges[callID]
	return b, ok
}

// persistTranscript writes one line without holding up the inbound loop.
func (s *callService) persistTranscript(entry entity.TranscriptEntry) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
		defer cancel()

		client, err := s.repo.NewClient(false)
		if err == nil {
			err = client.Transcripts.AppendTranscript(ctx, entry)
		}
		if err != nil {
			metrics.PersistenceErrorsTotal.WithLabelValues("append_transcript").Inc()
			s.log.WithFields(logrus.Fields{
				"call_id": entry.CallID,
				"error":   err.Error(),
			}).Error("Failed to persist transcript entry")
		}
	}()
}

// finishCall runs inside bridge teardown. The status update is synchronous
// so an HTTP end-call sees it. The archive upload is not.
func (s *callService) finishCall(bridge *Bridge, state entity.ConnectionState, cause error) {
	snapshot := bridge.Snapshot()

	s.mu.Lock()
	delete(s.bridges, snapshot.CallID)
	s.mu.Unlock()

	status := entity.CallStatusCompleted
	errMessage := ""
	if state == entity.StateFailed {
		status = entity.CallStatusFailed
		if cause != nil {
			errMessage = cause.Error()
		}
	}
	endedAt := time.Now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()

	client, err := s.repo.NewClient(false)
	if err == nil {
		err = client.Calls.FinishCall(ctx, snapshot.CallID, status, errMessage, endedAt)
	}
	if err != nil {
		metrics.PersistenceErrorsTotal.WithLabelValues("finish_call").Inc()
		s.log.WithFields(logrus.Fields{
			"call_id": snapshot.CallID,
			"error":   err.Error(),
		}).Error("Failed to record call end")
	}

	if s.archive == nil || len(snapshot.Transcript) == 0 {
		return
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		location, err := s.archive.UploadTranscript(ctx, snapshot.CallID, snapshot.StartedAt, transcriptArchive{
			CallID:         snapshot.CallID,
			OrganizationID: snapshot.OrganizationID,
			SessionID:      snapshot.SessionID,
			FinalState:     state.String(),
			Error:          errMessage,
			StartedAt:      snapshot.StartedAt,
			EndedAt:        endedAt,
			Transcript:     snapshot.Transcript,
		})
		if err != nil {
			metrics.PersistenceErrorsTotal.WithLabelValues("archive_transcript").Inc()
			s.log.WithFields(logrus.Fields{
				"call_id": snapshot.CallID,
				"error":   err.Error(),
			}).Error("Failed to archive transcript")
			return
		}
		s.log.WithFields(logrus.Fields{
			"call_id":  snapshot.CallID,
			"location": location,
		}).Info("Transcript archived")
	}()
}
