package planfile

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/agentcoord/types"
	"github.com/BaSui01/agentcoord/workflow"
	"github.com/BaSui01/agentcoord/workflow/nodes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const onboardingYAML = `
trigger: users.created
steps:
  - id: greet
    node: core.set
    inputs:
      user: "{{ event.user }}"
      tags: [new, trial]
  - id: vip
    condition: event.tier == "gold"
    on_false: done
  - id: perk
    type: node
    node: core.set
    inputs:
      perk: lounge
  - id: done
    node: core.noop
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFile_DefaultsNameToFileName(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "onboarding.yaml", onboardingYAML)

	plan, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "onboarding", plan.Name)
	assert.Equal(t, "users.created", plan.Trigger)
	require.Len(t, plan.Steps, 4)
	assert.Equal(t, workflow.StepKindCondition, plan.Steps[1].Kind())

	greet := plan.Steps[0].(*workflow.NodeStep)
	assert.Equal(t, "{{ event.user }}", greet.Inputs["user"])
	assert.Equal(t, []any{"new", "trial"}, greet.Inputs["tags"])
}

func TestParse_JSONAndErrors(t *testing.T) {
	plan, err := Parse([]byte(`{"name": "j", "steps": [{"id": "a", "node": "core.noop"}]}`), "fallback")
	require.NoError(t, err)
	assert.Equal(t, "j", plan.Name)

	_, err = Parse([]byte("steps: [unterminated"), "x")
	assert.True(t, types.IsCode(err, types.ErrInvalidPlan))

	_, err = Parse([]byte("steps:\n  - id: a\n    type: loop\n"), "x")
	assert.True(t, types.IsCode(err, types.ErrInvalidPlan))
}

func TestSync_SavesCompiledPlansAndReportsFailures(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "onboarding.yaml", onboardingYAML)
	writeFile(t, dir, "broken.yml", "name: broken\nsteps:\n  - id: a\n    node: core.noop\n    on_success: nowhere\n")
	writeFile(t, dir, "dup.yaml", "name: onboarding\nsteps:\n  - id: a\n    node: core.noop\n")
	writeFile(t, dir, "notes.txt", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o700))

	store := workflow.NewMemoryStore()
	result, err := Sync(ctx, dir, store, nodes.NewDefaultRegistry())
	require.NoError(t, err)

	assert.Equal(t, []string{"onboarding"}, result.Saved)
	assert.Len(t, result.Failed, 2)
	assert.True(t, types.IsCode(result.Failed[filepath.Join(dir, "broken.yml")], types.ErrInvalidPlan))
	// dup.yaml 排在 onboarding.yaml 之前，先占用了名字
	assert.Contains(t, result.Failed[filepath.Join(dir, "onboarding.yaml")].Error(), "already defined")

	wfs, err := store.ListWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, wfs, 1)
	assert.Equal(t, []string{"core.noop"}, wfs[0].Plan.RequiredNodes)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.yaml", "steps:\n  - id: x\n    node: core.noop\n")
	writeFile(t, dir, "a.json", `{"steps": [{"id": "y", "node": "core.set"}]}`)
	writeFile(t, dir, ".hidden.yaml", "bad: [")

	docs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].Plan.Name)
	assert.Equal(t, "b", docs[1].Plan.Name)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	writeFile(t, dir, "first.yaml", "steps:\n  - id: a\n    node: core.noop\n")
	store := workflow.NewMemoryStore()

	w := NewWatcher(dir, store, nodes.NewDefaultRegistry(),
		WithDebounce(20*time.Millisecond),
		WithLogger(zaptest.NewLogger(t)))

	var mu sync.Mutex
	var reloads []SyncResult
	w.OnReload(func(r SyncResult) {
		mu.Lock()
		defer mu.Unlock()
		reloads = append(reloads, r)
	})

	initial, err := w.Start(ctx)
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, []string{"first"}, initial.Saved)

	_, err = w.Start(ctx)
	assert.Error(t, err)

	writeFile(t, dir, "second.yaml", "trigger: orders.created\nsteps:\n  - id: b\n    node: core.set\n")

	require.Eventually(t, func() bool {
		wf, err := store.GetWorkflow(ctx, "second")
		return err == nil && wf.Plan.Trigger == "orders.created"
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	assert.GreaterOrEqual(t, len(reloads), 2)
	mu.Unlock()

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
