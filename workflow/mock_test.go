package workflow

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// fakeRegistry 测试用节点注册表
type fakeRegistry struct {
	mu      sync.Mutex
	defs    map[string]*NodeDefinition
	loads   int
	loadErr error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{defs: make(map[string]*NodeDefinition)}
}

func (r *fakeRegistry) add(id string, fn NodeExecutor) *fakeRegistry {
	r.defs[id] = &NodeDefinition{ID: id, Name: id, Description: "test node " + id, Executor: fn}
	return r
}

func (r *fakeRegistry) EnsureLoaded(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	return r.loadErr
}

func (r *fakeRegistry) Get(id string) (*NodeDefinition, bool) {
	d, ok := r.defs[id]
	return d, ok
}

func (r *fakeRegistry) FindMissingNodes(p *Plan) []string {
	var missing []string
	for _, s := range p.Steps {
		if ns, ok := s.(*NodeStep); ok {
			if _, found := r.defs[ns.Node]; !found {
				missing = append(missing, ns.Node)
			}
		}
	}
	return missing
}

func (r *fakeRegistry) List() []NodeDefinition {
	out := make([]NodeDefinition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// outputs 返回固定输出的执行器
func outputs(kv map[string]any) NodeExecutor {
	return func(ctx context.Context, nc NodeContext) (NodeResult, error) {
		return NodeResult{Outputs: kv}, nil
	}
}

// flakyStorage 在 RecordStepState 上注入错误
type flakyStorage struct {
	*MemoryStore
	failStep string
}

func (s *flakyStorage) RecordStepState(ctx context.Context, runID, stepID string, state map[string]any, logs []LogEntry) error {
	if stepID == s.failStep {
		return errors.New("disk full")
	}
	return s.MemoryStore.RecordStepState(ctx, runID, stepID, state, logs)
}

// countingRecorder 记录指标调用次数
type countingRecorder struct {
	mu       sync.Mutex
	runs     map[RunStatus]int
	steps    int
	failures int
}

func (r *countingRecorder) RunFinished(status RunStatus, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs == nil {
		r.runs = make(map[RunStatus]int)
	}
	r.runs[status]++
}

func (r *countingRecorder) StepFinished(kind StepKind, failed bool, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps++
	if failed {
		r.failures++
	}
}
