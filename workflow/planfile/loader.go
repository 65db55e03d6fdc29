package planfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BaSui01/agentcoord/types"
	"github.com/BaSui01/agentcoord/workflow"
	"gopkg.in/yaml.v3"
)

// Document 一个计划文件
type Document struct {
	Path string
	Plan *workflow.Plan
}

// Saver 计划文件同步的目标存储
type Saver interface {
	SaveWorkflow(ctx context.Context, wf *workflow.Workflow) error
}

// IsPlanFile 是否为计划文件（.yaml / .yml / .json）
func IsPlanFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return !strings.HasPrefix(filepath.Base(path), ".")
	default:
		return false
	}
}

// Parse 解析计划文档。name 为空时使用 fallbackName。
func Parse(data []byte, fallbackName string) (*workflow.Plan, error) {
	var spec workflow.PlanSpec
	// JSON 是 YAML 的子集，同一个解码器即可
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, types.NewError(types.ErrInvalidPlan, "parse plan document").WithCause(err)
	}
	if spec.Name == "" {
		spec.Name = fallbackName
	}
	return spec.Plan()
}

// LoadFile 读取并解析一个计划文件，名称缺省为文件名（不含扩展名）
func LoadFile(path string) (*workflow.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	base := filepath.Base(path)
	plan, err := Parse(data, strings.TrimSuffix(base, filepath.Ext(base)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return plan, nil
}

// LoadDir 按文件名顺序加载目录下所有计划文件
func LoadDir(dir string) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read plan directory: %w", err)
	}
	var docs []Document
	for _, e := range entries {
		if e.IsDir() || !IsPlanFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		plan, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document{Path: path, Plan: plan})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

// SyncResult 一次目录同步的结果
type SyncResult struct {
	Saved  []string
	Failed map[string]error
}

// Sync 加载目录中的计划，编译后以计划名为 id 保存。单个文件失败不影响其他文件。
func Sync(ctx context.Context, dir string, store Saver, registry workflow.NodeRegistry) (SyncResult, error) {
	result := SyncResult{Failed: make(map[string]error)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return result, fmt.Errorf("read plan directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && IsPlanFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	seen := make(map[string]string, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		plan, err := LoadFile(path)
		if err != nil {
			result.Failed[path] = err
			continue
		}
		if other, dup := seen[plan.Name]; dup {
			result.Failed[path] = types.Errorf(types.ErrInvalidPlan, "plan name %q already defined in %s", plan.Name, other)
			continue
		}
		seen[plan.Name] = path

		compiled, err := workflow.Compile(ctx, plan, registry)
		if err != nil {
			result.Failed[path] = err
			continue
		}
		if err := store.SaveWorkflow(ctx, &workflow.Workflow{ID: compiled.Name, Plan: compiled}); err != nil {
			return result, fmt.Errorf("save plan %q: %w", compiled.Name, err)
		}
		result.Saved = append(result.Saved, compiled.Name)
	}
	return result, nil
}
