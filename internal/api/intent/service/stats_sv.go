package intentService

import (
	"VoiceBridge/internal/api/intent"
	"VoiceBridge/internal/entity"
	"sync"
	"time"
)

const maxRecentRejections = 10

type pipelineStats struct {
	mu                 sync.Mutex
	validationFailures int64
	executions         map[string]int64
	duplicates         int64
	recent             []intent.RejectionSummary
}

func newPipelineStats() *pipelineStats {
	return &pipelineStats{executions: make(map[string]int64)}
}

func (p *pipelineStats) rejected(inv *entity.ToolInvocation, out entity.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.validationFailures++
	p.recent = append(p.recent, intent.RejectionSummary{
		ToolName:      inv.Name,
		CallID:        inv.CallID,
		MissingFields: out.MissingFields,
		InvalidFields: out.InvalidFields,
		RejectedAt:    time.Now().UTC(),
	})
	if len(p.recent) > maxRecentRejections {
		p.recent = p.recent[len(p.recent)-maxRecentRejections:]
	}
}

func (p *pipelineStats) executed(kind entity.ToolKind, out entity.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.executions[kind.String()+":"+string(out.Status)]++
	if out.IsDuplicate {
		p.duplicates++
	}
}

func (p *pipelineStats) snapshot(inFlight int) intent.PipelineStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	executions := make(map[string]int64, len(p.executions))
	for k, v := range p.executions {
		executions[k] = v
	}
	recent := make([]intent.RejectionSummary, len(p.recent))
	copy(recent, p.recent)

	return intent.PipelineStats{
		ValidationFailures: p.validationFailures,
		Executions:         executions,
		Duplicates:         p.duplicates,
		InFlight:           inFlight,
		RecentRejections:   recent,
	}
}
