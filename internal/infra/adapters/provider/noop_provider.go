// File: internal/infra/adapters/provider/noop_provider.go
package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"vidfab-pipeline/internal/domain/ports/adapter"
)

var _ adapter.GenerationProvider = (*NoopProvider)(nil)

// NoopProvider implements adapter.GenerationProvider for local/dev runs. Every
// submitted task completes on the poll after next with a fabricated output
// URL, and scripts split on blank lines into one shot per paragraph.
type NoopProvider struct {
	mu    sync.Mutex
	seq   int
	tasks map[string]int // polls remaining before completion
}

func NewNoopProvider() *NoopProvider {
	return &NoopProvider{tasks: make(map[string]int)}
}

func (p *NoopProvider) Submit(ctx context.Context, req adapter.SubmitRequest) (string, error) {
	select {
	case <-time.After(50 * time.Millisecond):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := fmt.Sprintf("noop-%s-%d", req.Kind, p.seq)
	p.tasks[id] = 1
	return id, nil
}

func (p *NoopProvider) PollStatus(ctx context.Context, taskID string) (*adapter.TaskStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	remaining, ok := p.tasks[taskID]
	if !ok {
		return &adapter.TaskStatus{State: adapter.TaskStateFailed, Error: "unknown task"}, nil
	}
	if remaining > 0 {
		p.tasks[taskID] = remaining - 1
		return &adapter.TaskStatus{State: adapter.TaskStateProcessing}, nil
	}
	delete(p.tasks, taskID)
	return &adapter.TaskStatus{
		State:     adapter.TaskStateCompleted,
		OutputURL: "https://noop.local/assets/" + taskID,
	}, nil
}

func (p *NoopProvider) AnalyzeScript(ctx context.Context, script string) ([]adapter.ShotPlan, error) {
	var plan []adapter.ShotPlan
	for _, para := range strings.Split(script, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		plan = append(plan, adapter.ShotPlan{ShotNumber: len(plan) + 1, Prompt: para})
	}
	if len(plan) == 0 {
		plan = append(plan, adapter.ShotPlan{ShotNumber: 1, Prompt: strings.TrimSpace(script)})
	}
	return plan, nil
}
