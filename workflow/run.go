package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunStatus 运行状态：pending → running → completed | failed
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal 是否为终态
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Run 一次工作流执行记录
type Run struct {
	ID           string         `json:"id"`
	WorkflowID   string         `json:"workflow_id"`
	Status       RunStatus      `json:"status"`
	EventPayload map[string]any `json:"event_payload,omitempty"`
	State        map[string]any `json:"state,omitempty"`
	CurrentStep  string         `json:"current_step,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// Workflow 已保存的工作流定义
type Workflow struct {
	ID        string    `json:"id"`
	Plan      *Plan     `json:"plan"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LogEntry 运行日志条目，随步骤快照一起持久化
type LogEntry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	StepID  string         `json:"step_id,omitempty"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// StepRecord 一次步骤状态快照
type StepRecord struct {
	RunID      string         `json:"run_id"`
	StepID     string         `json:"step_id"`
	State      map[string]any `json:"state"`
	Logs       []LogEntry     `json:"logs"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// =============================================================================
// 节点
// =============================================================================

// NodeStatus 节点执行结果状态
type NodeStatus string

const (
	NodeStatusOK    NodeStatus = "ok"
	NodeStatusError NodeStatus = "error"
)

// NodeContext 节点执行上下文。State 是只读快照，节点只能通过 Outputs 写入。
type NodeContext struct {
	RunID  string
	StepID string
	Inputs map[string]any
	State  map[string]any
	Event  map[string]any
	Logger *zap.Logger
}

// NodeResult 节点执行结果
type NodeResult struct {
	Outputs map[string]any
	Status  NodeStatus
	Error   string
}

// NodeExecutor 节点执行函数。返回 error 视为未处理异常，运行失败。
type NodeExecutor func(ctx context.Context, nc NodeContext) (NodeResult, error)

// NodeDefinition 注册表中的节点
type NodeDefinition struct {
	ID          string
	Name        string
	Description string
	Executor    NodeExecutor
}

// =============================================================================
// 协作方接口
// =============================================================================

// NodeRegistry 节点注册表
type NodeRegistry interface {
	EnsureLoaded(ctx context.Context) error
	Get(nodeID string) (*NodeDefinition, bool)
	FindMissingNodes(plan *Plan) []string
}

// NodeCatalog 可列举节点的注册表（计划生成时使用）
type NodeCatalog interface {
	List() []NodeDefinition
}

// Storage 引擎使用的持久化接口
type Storage interface {
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	StartRun(ctx context.Context, workflowID string, event, initialState map[string]any) (*Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status RunStatus, state map[string]any, errMsg, currentStep string) (*Run, error)
	RecordStepState(ctx context.Context, runID, stepID string, state map[string]any, logs []LogEntry) error
}

// Store 完整的工作流存储：引擎接口加上管理与查询
type Store interface {
	Storage
	SaveWorkflow(ctx context.Context, wf *Workflow) error
	ListWorkflows(ctx context.Context) ([]*Workflow, error)
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, workflowID string, limit int) ([]*Run, error)
	ListStepStates(ctx context.Context, runID string) ([]StepRecord, error)
}

// Recorder 引擎指标（可选）
type Recorder interface {
	RunFinished(status RunStatus, d time.Duration)
	StepFinished(kind StepKind, failed bool, d time.Duration)
}
