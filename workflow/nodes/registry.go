package nodes

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/agentcoord/workflow"
)

// Loader 延迟加载节点定义，例如从插件目录或远程目录读取
type Loader func(ctx context.Context) ([]workflow.NodeDefinition, error)

// MapRegistry is a thread-safe in-memory node registry. It implements
// workflow.NodeRegistry and workflow.NodeCatalog.
type MapRegistry struct {
	mu      sync.RWMutex
	nodes   map[string]workflow.NodeDefinition
	loaders []Loader
	loaded  bool
}

// NewMapRegistry creates an empty registry.
func NewMapRegistry() *MapRegistry {
	return &MapRegistry{nodes: make(map[string]workflow.NodeDefinition)}
}

// Register adds a node under def.ID. An existing node with the same id is replaced.
func (r *MapRegistry) Register(def workflow.NodeDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("node id is required")
	}
	if def.Executor == nil {
		return fmt.Errorf("node %q has no executor", def.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[def.ID] = def
	return nil
}

// MustRegister 注册失败时 panic，仅用于启动阶段的静态注册
func (r *MapRegistry) MustRegister(defs ...workflow.NodeDefinition) *MapRegistry {
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

// AddLoader 添加加载器，下一次 EnsureLoaded 时执行
func (r *MapRegistry) AddLoader(l Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders = append(r.loaders, l)
	r.loaded = false
}

// EnsureLoaded 执行尚未成功的加载器。失败时保留未加载状态，下次调用重试。
func (r *MapRegistry) EnsureLoaded(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return nil
	}
	for len(r.loaders) > 0 {
		defs, err := r.loaders[0](ctx)
		if err != nil {
			return fmt.Errorf("load nodes: %w", err)
		}
		for _, d := range defs {
			if d.ID == "" || d.Executor == nil {
				return fmt.Errorf("loader returned invalid node %q", d.ID)
			}
			r.nodes[d.ID] = d
		}
		r.loaders = r.loaders[1:]
	}
	r.loaded = true
	return nil
}

// Get 实现 workflow.NodeRegistry
func (r *MapRegistry) Get(id string) (*workflow.NodeDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.nodes[id]
	if !ok {
		return nil, false
	}
	return &d, true
}

// FindMissingNodes 返回计划引用但未注册的节点 id（去重、排序）
func (r *MapRegistry) FindMissingNodes(plan *workflow.Plan) []string {
	if plan == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := make(map[string]struct{})
	for _, s := range plan.Steps {
		ns, ok := s.(*workflow.NodeStep)
		if !ok {
			continue
		}
		if _, found := r.nodes[ns.Node]; !found {
			set[ns.Node] = struct{}{}
		}
	}
	missing := make([]string, 0, len(set))
	for id := range set {
		missing = append(missing, id)
	}
	sort.Strings(missing)
	return missing
}

// List 按 id 排序返回所有节点
func (r *MapRegistry) List() []workflow.NodeDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]workflow.NodeDefinition, 0, len(r.nodes))
	for _, d := range r.nodes {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Unregister removes a node. It is a no-op when the id is unknown.
func (r *MapRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, id)
}
