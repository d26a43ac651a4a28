package coordinator

import (
	"strings"

	"github.com/blackms/flyswarm-go/internal/domain/task"
	"github.com/blackms/flyswarm-go/internal/domain/worker"
	"github.com/blackms/flyswarm-go/internal/shared"
)

// AffinityRule routes task types containing any of Keywords to WorkerType.
type AffinityRule struct {
	Keywords   []string
	WorkerType shared.WorkerType
}

// AffinityRules are evaluated in order; the first rule whose keyword
// appears in the task type decides the eligible worker type.
var AffinityRules = []AffinityRule{
	{Keywords: []string{"search", "analyze"}, WorkerType: shared.WorkerTypeResearcher},
	{Keywords: []string{"implement", "code"}, WorkerType: shared.WorkerTypeCoder},
	{Keywords: []string{"test", "validate"}, WorkerType: shared.WorkerTypeTester},
	{Keywords: []string{"metric", "report"}, WorkerType: shared.WorkerTypeAnalyst},
}

// AffinityFor returns the worker type a task type is routed to, and false
// when no rule matches and any worker may take it.
func AffinityFor(taskType string) (shared.WorkerType, bool) {
	for _, rule := range AffinityRules {
		for _, kw := range rule.Keywords {
			if strings.Contains(taskType, kw) {
				return rule.WorkerType, true
			}
		}
	}
	return "", false
}

// SelectWorker picks the eligible idle worker with the highest success rate.
// Ties keep the order of idle, which is registration order. It returns nil
// when no idle worker is eligible.
func SelectWorker(t *task.Task, idle []*worker.Worker) *worker.Worker {
	wanted, restricted := AffinityFor(t.Type)

	var best *worker.Worker
	for _, w := range idle {
		if restricted && w.Type != wanted {
			continue
		}
		if best == nil || w.Performance.SuccessRate > best.Performance.SuccessRate {
			best = w
		}
	}
	return best
}
