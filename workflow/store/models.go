package store

import (
	"time"

	"github.com/BaSui01/agentcoord/workflow"
)

// workflowModel 工作流定义表
type workflowModel struct {
	ID        string            `gorm:"primaryKey;size:191"`
	Name      string            `gorm:"size:191"`
	Trigger   string            `gorm:"size:191;index"`
	Plan      workflow.PlanSpec `gorm:"serializer:json"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (workflowModel) TableName() string { return "workflows" }

// runModel 运行记录表
type runModel struct {
	ID           string         `gorm:"primaryKey;size:64"`
	WorkflowID   string         `gorm:"size:191;index"`
	Status       string         `gorm:"size:16;index"`
	EventPayload map[string]any `gorm:"serializer:json"`
	State        map[string]any `gorm:"serializer:json"`
	CurrentStep  string         `gorm:"size:191"`
	Error        string         `gorm:"type:text"`
	StartedAt    time.Time      `gorm:"index"`
	FinishedAt   *time.Time
}

func (runModel) TableName() string { return "workflow_runs" }

// stepStateModel 步骤快照表，只追加
type stepStateModel struct {
	ID         uint                `gorm:"primaryKey;autoIncrement"`
	RunID      string              `gorm:"size:64;index"`
	StepID     string              `gorm:"size:191"`
	State      map[string]any      `gorm:"serializer:json"`
	Logs       []workflow.LogEntry `gorm:"serializer:json"`
	RecordedAt time.Time
}

func (stepStateModel) TableName() string { return "workflow_step_states" }

func (m *workflowModel) toWorkflow() (*workflow.Workflow, error) {
	plan, err := m.Plan.Plan()
	if err != nil {
		return nil, err
	}
	return &workflow.Workflow{ID: m.ID, Plan: plan, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt}, nil
}

func (m *runModel) toRun() *workflow.Run {
	return &workflow.Run{
		ID:           m.ID,
		WorkflowID:   m.WorkflowID,
		Status:       workflow.RunStatus(m.Status),
		EventPayload: m.EventPayload,
		State:        m.State,
		CurrentStep:  m.CurrentStep,
		StartedAt:    m.StartedAt,
		FinishedAt:   m.FinishedAt,
		Error:        m.Error,
	}
}

func (m *stepStateModel) toRecord() workflow.StepRecord {
	return workflow.StepRecord{
		RunID:      m.RunID,
		StepID:     m.StepID,
		State:      m.State,
		Logs:       m.Logs,
		RecordedAt: m.RecordedAt,
	}
}
