package natsbus

import "strings"

// DefaultSubjectPrefix 默认 subject 前缀
const DefaultSubjectPrefix = "agentcoord"

// Subjects 按前缀生成 subject 名称
type Subjects struct {
	prefix string
}

// NewSubjects 创建 subject 生成器，prefix 为空时使用默认前缀
func NewSubjects(prefix string) Subjects {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return Subjects{prefix: prefix}
}

// Topology 拓扑快照
func (s Subjects) Topology() string {
	return s.prefix + ".topology"
}

// Unrouted 没有接收者的消息
func (s Subjects) Unrouted() string {
	return s.prefix + ".messages.unrouted"
}

// DeliveryFailed 被接收方拒绝的投递
func (s Subjects) DeliveryFailed() string {
	return s.prefix + ".messages.delivery_failed"
}

// Trigger 某个触发器名称对应的 subject
func (s Subjects) Trigger(name string) string {
	return s.prefix + ".trigger." + name
}

// TriggerWildcard 匹配全部触发器
func (s Subjects) TriggerWildcard() string {
	return s.prefix + ".trigger.>"
}

// TriggerName 从 subject 中取出触发器名称，不匹配时返回 false
func (s Subjects) TriggerName(subject string) (string, bool) {
	name, ok := strings.CutPrefix(subject, s.prefix+".trigger.")
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// RunFinished 工作流运行结束
func (s Subjects) RunFinished(workflowID string) string {
	return s.prefix + ".runs." + workflowID
}

// Inbox 远程智能体的收件 subject
func (s Subjects) Inbox(agentID string) string {
	return s.prefix + ".agents." + agentID + ".inbox"
}

// Outbox 远程智能体发送消息的 subject，消息经过治理后发布
func (s Subjects) Outbox() string {
	return s.prefix + ".messages.send"
}
