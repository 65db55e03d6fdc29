package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/BaSui01/agentcoord/workflow"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WorkflowLister 列出已保存的工作流
type WorkflowLister interface {
	ListWorkflows(ctx context.Context) ([]*workflow.Workflow, error)
}

// Runner 执行工作流
type Runner interface {
	Run(ctx context.Context, workflowID string, event map[string]any) (*workflow.Run, error)
}

// RunEvent 工作流由触发器启动并结束后发布的事件
type RunEvent struct {
	WorkflowID string             `json:"workflow_id"`
	Trigger    string             `json:"trigger"`
	RunID      string             `json:"run_id,omitempty"`
	Status     workflow.RunStatus `json:"status"`
	Error      string             `json:"error,omitempty"`
}

// Subscriber 订阅 NATS subject
type Subscriber interface {
	Subscribe(subject string, handler func(msg *nats.Msg)) (*nats.Subscription, error)
}

// triggerQueueSize 订阅回调与分发循环之间的缓冲
const triggerQueueSize = 256

type triggerJob struct {
	name  string
	event map[string]any
}

// TriggerDispatcher 订阅 <prefix>.trigger.>，对每条消息运行 trigger 与之匹配的全部工作流。
// 订阅回调只把消息放入缓冲队列，达到并发上限时的等待发生在分发循环里，不阻塞 NATS 投递。
type TriggerDispatcher struct {
	sub      Subscriber
	pub      JSONPublisher
	lister   WorkflowLister
	runner   Runner
	subjects Subjects
	logger   *zap.Logger

	mu     sync.Mutex
	nsub   *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	queue    chan triggerJob
	stopLoop chan struct{}
	loopDone chan struct{}
}

// NewTriggerDispatcher 创建触发器分发器。maxConcurrent <= 0 时不限制并发运行数。
// pub 为 nil 时不发布运行结束事件。
func NewTriggerDispatcher(sub Subscriber, pub JSONPublisher, lister WorkflowLister, runner Runner,
	subjects Subjects, maxConcurrent int, logger *zap.Logger) *TriggerDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &errgroup.Group{}
	if maxConcurrent > 0 {
		g.SetLimit(maxConcurrent)
	}
	return &TriggerDispatcher{
		sub:      sub,
		pub:      pub,
		lister:   lister,
		runner:   runner,
		subjects: subjects,
		logger:   logger.With(zap.String("component", "trigger_dispatcher")),
		group:    g,
		queue:    make(chan triggerJob, triggerQueueSize),
	}
}

// Start 开始订阅。ctx 取消时进行中的运行收到取消信号。
func (d *TriggerDispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.nsub != nil {
		return fmt.Errorf("trigger dispatcher already started")
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	nsub, err := d.sub.Subscribe(d.subjects.TriggerWildcard(), d.handle)
	if err != nil {
		d.cancel()
		return fmt.Errorf("subscribe triggers: %w", err)
	}
	d.nsub = nsub
	d.stopLoop = make(chan struct{})
	d.loopDone = make(chan struct{})
	go d.loop(d.ctx, d.stopLoop, d.loopDone)
	d.logger.Info("trigger dispatcher started", zap.String("subject", d.subjects.TriggerWildcard()))
	return nil
}

// Stop 取消订阅，分发已排队的触发，并等待进行中的运行结束
func (d *TriggerDispatcher) Stop() error {
	d.mu.Lock()
	nsub, cancel := d.nsub, d.cancel
	stopLoop, loopDone := d.stopLoop, d.loopDone
	d.nsub, d.stopLoop, d.loopDone = nil, nil, nil
	d.mu.Unlock()

	var err error
	if nsub != nil {
		err = nsub.Unsubscribe()
	}
	if stopLoop != nil {
		close(stopLoop)
		<-loopDone
	}
	waitErr := d.group.Wait()
	if cancel != nil {
		cancel()
	}
	if err != nil {
		return err
	}
	return waitErr
}

// handle 在 NATS 回调里执行，不能阻塞；队列满时丢弃并记录
func (d *TriggerDispatcher) handle(msg *nats.Msg) {
	name, ok := d.subjects.TriggerName(msg.Subject)
	if !ok {
		return
	}
	select {
	case d.queue <- triggerJob{name: name, event: decodeEvent(msg.Data)}:
	default:
		d.logger.Warn("trigger queue full, dropping trigger",
			zap.String("trigger", name),
			zap.Int("queue_size", cap(d.queue)),
		)
	}
}

func (d *TriggerDispatcher) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case job := <-d.queue:
			d.Dispatch(ctx, job.name, job.event)
		case <-stop:
			for {
				select {
				case job := <-d.queue:
					d.Dispatch(ctx, job.name, job.event)
				default:
					return
				}
			}
		}
	}
}

// Dispatch 启动所有 trigger 等于 name 的工作流，返回启动的工作流数。
// 运行在后台进行，Stop 会等待它们结束。
func (d *TriggerDispatcher) Dispatch(ctx context.Context, name string, event map[string]any) int {
	workflows, err := d.lister.ListWorkflows(ctx)
	if err != nil {
		d.logger.Error("list workflows failed", zap.String("trigger", name), zap.Error(err))
		return 0
	}
	started := 0
	for _, wf := range workflows {
		if wf.Plan == nil || wf.Plan.Trigger != name {
			continue
		}
		started++
		id := wf.ID
		d.group.Go(func() error {
			d.run(ctx, id, name, event)
			return nil
		})
	}
	if started == 0 {
		d.logger.Debug("no workflow matches trigger", zap.String("trigger", name))
	}
	return started
}

func (d *TriggerDispatcher) run(ctx context.Context, workflowID, trigger string, event map[string]any) {
	ev := RunEvent{WorkflowID: workflowID, Trigger: trigger}
	run, err := d.runner.Run(ctx, workflowID, event)
	if run != nil {
		ev.RunID = run.ID
		ev.Status = run.Status
	}
	if err != nil {
		ev.Error = err.Error()
		if ev.Status == "" {
			ev.Status = workflow.RunStatusFailed
		}
		d.logger.Warn("triggered run failed",
			zap.String("workflow_id", workflowID),
			zap.String("trigger", trigger),
			zap.Error(err),
		)
	} else {
		d.logger.Info("triggered run finished",
			zap.String("workflow_id", workflowID),
			zap.String("run_id", ev.RunID),
			zap.String("status", string(ev.Status)),
		)
	}
	if d.pub == nil {
		return
	}
	if perr := d.pub.PublishJSON(d.subjects.RunFinished(workflowID), ev); perr != nil {
		d.logger.Warn("publish run event failed", zap.String("workflow_id", workflowID), zap.Error(perr))
	}
}

// decodeEvent 把 JSON 对象解码为事件，其他负载放在 "payload" 键下
func decodeEvent(data []byte) map[string]any {
	event := map[string]any{}
	if len(data) == 0 {
		return event
	}
	if err := json.Unmarshal(data, &event); err != nil || event == nil {
		return map[string]any{"payload": string(data)}
	}
	return event
}
