package intentService

import (
	"VoiceBridge/internal/api/intent"
	intentRepository "VoiceBridge/internal/api/intent/repository"
	"VoiceBridge/internal/entity"
	"VoiceBridge/pkg/utils"
	"VoiceBridge/pkg/zapier"
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

type IIntentService interface {
	// Validate fills inv.Validated, or returns the rejection to report.
	Validate(inv *entity.ToolInvocation) *entity.Outcome
	// Execute runs a validated invocation at most once per idempotency key.
	Execute(ctx context.Context, inv entity.ToolInvocation) entity.Outcome
	// Handle validates then executes.
	Handle(ctx context.Context, inv *entity.ToolInvocation) entity.Outcome
	Stats() intent.PipelineStats
}

type intentService struct {
	log             *logrus.Logger
	argsValidator   *validator.Validate
	records         intentRepository.IRecordStore
	repo            intentRepository.Repository
	webhook         zapier.IWebhook
	utils           utils.IUtils
	locks           *keyLocker
	stats           *pipelineStats
	dispatchTimeout time.Duration
	lockTimeout     time.Duration
	bookkeeping     time.Duration
}

type Option func(*intentService)

func WithDispatchTimeout(d time.Duration) Option {
	return func(s *intentService) {
		s.dispatchTimeout = d
	}
}

func WithLockTimeout(d time.Duration) Option {
	return func(s *intentService) {
		s.lockTimeout = d
	}
}

// NewIntentService wires the pipeline. repo may be nil, in which case local
// bookkeeping (appointment rows, escalation flags, intake data) is skipped.
func NewIntentService(
	log *logrus.Logger,
	records intentRepository.IRecordStore,
	repo intentRepository.Repository,
	webhook zapier.IWebhook,
	utils utils.IUtils,
	opts ...Option,
) IIntentService {
	s := &intentService{
		log:             log,
		argsValidator:   newArgsValidator(log),
		records:         records,
		repo:            repo,
		webhook:         webhook,
		utils:           utils,
		locks:           newKeyLocker(),
		stats:           newPipelineStats(),
		dispatchTimeout: 30 * time.Second,
		lockTimeout:     45 * time.Second,
		bookkeeping:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *intentService) Handle(ctx context.Context, inv *entity.ToolInvocation) entity.Outcome {
	if rejection := s.Validate(inv); rejection != nil {
		return *rejection
	}
	return s.Execute(ctx, *inv)
}

func (s *intentService) Stats() intent.PipelineStats {
	return s.stats.snapshot(s.locks.inFlight())
}
