package workflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/agentcoord/types"
	"github.com/google/uuid"
)

// MemoryStore 进程内 Store 实现，测试与单机 CLI 使用
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
	runs      map[string]*Run
	runOrder  []string
	steps     map[string][]StepRecord
	now       func() time.Time
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]*Workflow),
		runs:      make(map[string]*Run),
		steps:     make(map[string][]StepRecord),
		now:       time.Now,
	}
}

// SaveWorkflow 保存工作流，同 id 整体替换计划
func (s *MemoryStore) SaveWorkflow(ctx context.Context, wf *Workflow) error {
	if wf == nil || wf.ID == "" {
		return types.NewError(types.ErrInvalidPlan, "workflow id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	stored := &Workflow{ID: wf.ID, Plan: wf.Plan.Clone(), CreatedAt: now, UpdatedAt: now}
	if prev, ok := s.workflows[wf.ID]; ok {
		stored.CreatedAt = prev.CreatedAt
	}
	s.workflows[wf.ID] = stored
	return nil
}

// GetWorkflow 实现 Storage
func (s *MemoryStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, types.Errorf(types.ErrWorkflowNotFound, "workflow %q not found", id)
	}
	return copyWorkflow(wf), nil
}

// ListWorkflows 按 id 排序返回
func (s *MemoryStore) ListWorkflows(ctx context.Context) ([]*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Workflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		out = append(out, copyWorkflow(wf))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// StartRun 实现 Storage
func (s *MemoryStore) StartRun(ctx context.Context, workflowID string, event, initialState map[string]any) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[workflowID]; !ok {
		return nil, types.Errorf(types.ErrWorkflowNotFound, "workflow %q not found", workflowID)
	}
	run := &Run{
		ID:           uuid.NewString(),
		WorkflowID:   workflowID,
		Status:       RunStatusPending,
		EventPayload: cloneMap(event),
		State:        cloneMap(initialState),
		StartedAt:    s.now().UTC(),
	}
	if run.State == nil {
		run.State = map[string]any{}
	}
	s.runs[run.ID] = run
	s.runOrder = append(s.runOrder, run.ID)
	return copyRun(run), nil
}

// UpdateRunStatus 实现 Storage。进入终态时写入 FinishedAt。
func (s *MemoryStore) UpdateRunStatus(ctx context.Context, runID string, status RunStatus, state map[string]any, errMsg, currentStep string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, types.Errorf(types.ErrRunNotFound, "run %q not found", runID)
	}
	run.Status = status
	run.State = cloneMap(state)
	run.Error = errMsg
	run.CurrentStep = currentStep
	if status.Terminal() {
		finished := s.now().UTC()
		run.FinishedAt = &finished
	}
	return copyRun(run), nil
}

// RecordStepState 实现 Storage
func (s *MemoryStore) RecordStepState(ctx context.Context, runID, stepID string, state map[string]any, logs []LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return types.Errorf(types.ErrRunNotFound, "run %q not found", runID)
	}
	run.CurrentStep = stepID
	s.steps[runID] = append(s.steps[runID], StepRecord{
		RunID:      runID,
		StepID:     stepID,
		State:      cloneMap(state),
		Logs:       append([]LogEntry(nil), logs...),
		RecordedAt: s.now().UTC(),
	})
	return nil
}

// GetRun 查询运行
func (s *MemoryStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, types.Errorf(types.ErrRunNotFound, "run %q not found", runID)
	}
	return copyRun(run), nil
}

// ListRuns 最近的运行在前；workflowID 为空时不过滤，limit <= 0 不限制
func (s *MemoryStore) ListRuns(ctx context.Context, workflowID string, limit int) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Run
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		run := s.runs[s.runOrder[i]]
		if workflowID != "" && run.WorkflowID != workflowID {
			continue
		}
		out = append(out, copyRun(run))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ListStepStates 按记录顺序返回步骤快照
func (s *MemoryStore) ListStepStates(ctx context.Context, runID string) ([]StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.runs[runID]; !ok {
		return nil, types.Errorf(types.ErrRunNotFound, "run %q not found", runID)
	}
	records := s.steps[runID]
	out := make([]StepRecord, len(records))
	for i, r := range records {
		out[i] = r
		out[i].State = cloneMap(r.State)
		out[i].Logs = append([]LogEntry(nil), r.Logs...)
	}
	return out, nil
}

func copyWorkflow(wf *Workflow) *Workflow {
	out := *wf
	out.Plan = wf.Plan.Clone()
	return &out
}

func copyRun(r *Run) *Run {
	out := *r
	out.EventPayload = cloneMap(r.EventPayload)
	out.State = cloneMap(r.State)
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}
