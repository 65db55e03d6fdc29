package store

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/agentcoord/internal/database"
	"github.com/BaSui01/agentcoord/types"
	"github.com/BaSui01/agentcoord/workflow"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GormStore 基于 GORM 的 workflow.Store 实现（SQLite / PostgreSQL / MySQL）。
// state 与 event 以 JSON 列存储，读回时数字统一为 float64。
type GormStore struct {
	db        *gorm.DB
	txRetries int
	logger    *zap.Logger
	now       func() time.Time
}

// Option 配置 GormStore
type Option func(*GormStore)

// WithTxRetries 写事务遇到死锁、sqlite 锁等瞬时错误时的重试次数，默认不重试
func WithTxRetries(n int) Option {
	return func(s *GormStore) { s.txRetries = n }
}

// NewGormStore 创建存储
func NewGormStore(db *gorm.DB, logger *zap.Logger, opts ...Option) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "workflow_store")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// transact 写路径统一入口，fn 可能被执行多次
func (s *GormStore) transact(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return database.Transact(ctx, s.db, s.txRetries, s.logger, fn)
}

// Migrate 创建或升级表结构
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&workflowModel{}, &runModel{}, &stepStateModel{}); err != nil {
		return storageError("migrate workflow tables", err)
	}
	return nil
}

// SaveWorkflow 保存工作流，同 id 整体替换计划
func (s *GormStore) SaveWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	if wf == nil || wf.ID == "" || wf.Plan == nil {
		return types.NewError(types.ErrInvalidPlan, "workflow id and plan are required")
	}
	now := s.now().UTC()
	return s.transact(ctx, func(tx *gorm.DB) error {
		var existing workflowModel
		err := tx.Where("id = ?", wf.ID).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			m := workflowModel{ID: wf.ID, Name: wf.Plan.Name, Trigger: wf.Plan.Trigger, Plan: wf.Plan.Spec(), CreatedAt: now, UpdatedAt: now}
			if err := tx.Create(&m).Error; err != nil {
				return storageError("create workflow", err)
			}
		case err != nil:
			return storageError("load workflow", err)
		default:
			existing.Name = wf.Plan.Name
			existing.Trigger = wf.Plan.Trigger
			existing.Plan = wf.Plan.Spec()
			existing.UpdatedAt = now
			if err := tx.Save(&existing).Error; err != nil {
				return storageError("update workflow", err)
			}
		}
		s.logger.Debug("workflow saved", zap.String("workflow_id", wf.ID), zap.Int("steps", len(wf.Plan.Steps)))
		return nil
	})
}

// GetWorkflow 实现 workflow.Storage
func (s *GormStore) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	var m workflowModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.Errorf(types.ErrWorkflowNotFound, "workflow %q not found", id)
		}
		return nil, storageError("load workflow", err)
	}
	return m.toWorkflow()
}

// ListWorkflows 按 id 排序返回
func (s *GormStore) ListWorkflows(ctx context.Context) ([]*workflow.Workflow, error) {
	var models []workflowModel
	if err := s.db.WithContext(ctx).Order("id").Find(&models).Error; err != nil {
		return nil, storageError("list workflows", err)
	}
	out := make([]*workflow.Workflow, 0, len(models))
	for i := range models {
		wf, err := models[i].toWorkflow()
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, nil
}

// StartRun 实现 workflow.Storage
func (s *GormStore) StartRun(ctx context.Context, workflowID string, event, initialState map[string]any) (*workflow.Run, error) {
	if initialState == nil {
		initialState = map[string]any{}
	}
	m := runModel{
		ID:           uuid.NewString(),
		WorkflowID:   workflowID,
		Status:       string(workflow.RunStatusPending),
		EventPayload: event,
		State:        initialState,
		StartedAt:    s.now().UTC(),
	}
	err := s.transact(ctx, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&workflowModel{}).Where("id = ?", workflowID).Count(&count).Error; err != nil {
			return storageError("check workflow", err)
		}
		if count == 0 {
			return types.Errorf(types.ErrWorkflowNotFound, "workflow %q not found", workflowID)
		}
		if err := tx.Create(&m).Error; err != nil {
			return storageError("create run", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m.toRun(), nil
}

// UpdateRunStatus 实现 workflow.Storage。进入终态时写入 finished_at。
func (s *GormStore) UpdateRunStatus(ctx context.Context, runID string, status workflow.RunStatus, state map[string]any, errMsg, currentStep string) (*workflow.Run, error) {
	var out *workflow.Run
	err := s.transact(ctx, func(tx *gorm.DB) error {
		var m runModel
		if err := tx.Where("id = ?", runID).Take(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.Errorf(types.ErrRunNotFound, "run %q not found", runID)
			}
			return storageError("load run", err)
		}
		m.Status = string(status)
		m.State = state
		m.Error = errMsg
		m.CurrentStep = currentStep
		if status.Terminal() {
			finished := s.now().UTC()
			m.FinishedAt = &finished
		}
		if err := tx.Save(&m).Error; err != nil {
			return storageError("update run", err)
		}
		out = m.toRun()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordStepState 实现 workflow.Storage
func (s *GormStore) RecordStepState(ctx context.Context, runID, stepID string, state map[string]any, logs []workflow.LogEntry) error {
	return s.transact(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&runModel{}).Where("id = ?", runID).Update("current_step", stepID)
		if res.Error != nil {
			return storageError("update current step", res.Error)
		}
		if res.RowsAffected == 0 {
			return types.Errorf(types.ErrRunNotFound, "run %q not found", runID)
		}
		m := stepStateModel{RunID: runID, StepID: stepID, State: state, Logs: logs, RecordedAt: s.now().UTC()}
		if err := tx.Create(&m).Error; err != nil {
			return storageError("record step state", err)
		}
		return nil
	})
}

// GetRun 查询运行
func (s *GormStore) GetRun(ctx context.Context, runID string) (*workflow.Run, error) {
	var m runModel
	if err := s.db.WithContext(ctx).Where("id = ?", runID).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.Errorf(types.ErrRunNotFound, "run %q not found", runID)
		}
		return nil, storageError("load run", err)
	}
	return m.toRun(), nil
}

// ListRuns 最近的运行在前；workflowID 为空时不过滤，limit <= 0 不限制
func (s *GormStore) ListRuns(ctx context.Context, workflowID string, limit int) ([]*workflow.Run, error) {
	q := s.db.WithContext(ctx).Order("started_at DESC").Order("id DESC")
	if workflowID != "" {
		q = q.Where("workflow_id = ?", workflowID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []runModel
	if err := q.Find(&models).Error; err != nil {
		return nil, storageError("list runs", err)
	}
	out := make([]*workflow.Run, len(models))
	for i := range models {
		out[i] = models[i].toRun()
	}
	return out, nil
}

// ListStepStates 按记录顺序返回步骤快照
func (s *GormStore) ListStepStates(ctx context.Context, runID string) ([]workflow.StepRecord, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	var models []stepStateModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("id").Find(&models).Error; err != nil {
		return nil, storageError("list step states", err)
	}
	out := make([]workflow.StepRecord, len(models))
	for i := range models {
		out[i] = models[i].toRecord()
	}
	return out, nil
}

func storageError(op string, err error) error {
	return types.NewError(types.ErrStorageFailure, op).WithCause(err).WithRetryable(true)
}

var _ workflow.Store = (*GormStore)(nil)
