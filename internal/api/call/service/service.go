package callService

import (
	"VoiceBridge/internal/api/call"
	callRepository "VoiceBridge/internal/api/call/repository"
	intentService "VoiceBridge/internal/api/intent/service"
	"VoiceBridge/internal/entity"
	"VoiceBridge/pkg/audio"
	"VoiceBridge/pkg/openai"
	"VoiceBridge/pkg/s3"
	"VoiceBridge/pkg/utils"
	websocketPkg "VoiceBridge/pkg/websocket"
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type ICallService interface {
	StartCall(ctx context.Context, req call.StartCallRequest) (call.StartCallResponse, error)
	// AttachDevice runs the call's bridge against device until the session
	// ends. It blocks.
	AttachDevice(ctx context.Context, callID string, device audio.Device) error
	EndCall(ctx context.Context, callID string) (entity.Call, error)
	GetCall(ctx context.Context, callID string) (entity.Call, entity.ConnectionState, error)
	ListCalls(ctx context.Context, query call.ListCallsQuery) ([]entity.Call, int, error)
	GetTranscript(ctx context.Context, callID string) ([]entity.TranscriptEntry, string, error)
	SaveTranscript(ctx context.Context, callID string, req call.SaveTranscriptRequest) (entity.TranscriptEntry, error)
	// Shutdown ends every live session and waits for their bookkeeping.
	Shutdown(ctx context.Context)
}

type callService struct {
	log         *logrus.Logger
	repo        callRepository.Repository
	provisioner openai.IProvisioner
	dialer      websocketPkg.IDialer
	intents     intentService.IIntentService
	archive     s3.ItfS3
	utils       utils.IUtils

	mu      sync.Mutex
	bridges map[string]*Bridge
	pending sync.WaitGroup

	attachTimeout  time.Duration
	persistTimeout time.Duration
	bridgeOpts     []BridgeOption
}

type Option func(*callService)

// WithAttachTimeout bounds how long a started call waits for its device.
func WithAttachTimeout(d time.Duration) Option {
	return func(s *callService) {
		s.attachTimeout = d
	}
}

func WithBridgeOptions(opts ...BridgeOption) Option {
	return func(s *callService) {
		s.bridgeOpts = append(s.bridgeOpts, opts...)
	}
}

// NewCallService wires the call lifecycle. archive may be nil.
func NewCallService(
	log *logrus.Logger,
	repo callRepository.Repository,
	provisioner openai.IProvisioner,
	dialer websocketPkg.IDialer,
	intents intentService.IIntentService,
	archive s3.ItfS3,
	utils utils.IUtils,
	opts ...Option,
) ICallService {
	s := &callService{
		log:            log,
		repo:           repo,
		provisioner:    provisioner,
		dialer:         dialer,
		intents:        intents,
		archive:        archive,
		utils:          utils,
		bridges:        make(map[string]*Bridge),
		attachTimeout:  2 * time.Minute,
		persistTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
