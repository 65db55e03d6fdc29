package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/BaSui01/agentcoord/types"
	"go.uber.org/zap"
)

// Config 摘要配置
type Config struct {
	// 参与摘要的最近消息条数
	MaxMessages int `yaml:"max_messages" json:"max_messages" env:"MAX_MESSAGES"`

	// 输出条目上限
	MaxBullets int `yaml:"max_bullets" json:"max_bullets" env:"MAX_BULLETS"`

	// 单条目最大字符数（rune），超出截断并追加省略号
	MaxBulletRunes int `yaml:"max_bullet_runes" json:"max_bullet_runes" env:"MAX_BULLET_RUNES"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxMessages:    20,
		MaxBullets:     5,
		MaxBulletRunes: 160,
	}
}

const bulletPrefix = "- "

// Backend 摘要后端，返回未格式化的要点
type Backend interface {
	Name() string
	Summarize(ctx context.Context, messages []types.AgentMessage) ([]string, error)
}

// Recorder 记录后端调用结果
type Recorder interface {
	SummarizerCall(backend string, ok bool)
}

// Summarizer 先调用主后端，失败时回退到备用后端
type Summarizer struct {
	config    Config
	primary   Backend
	secondary Backend
	recorder  Recorder
	logger    *zap.Logger
}

// Option 配置 Summarizer
type Option func(*Summarizer)

// WithRecorder 设置指标记录器
func WithRecorder(r Recorder) Option {
	return func(s *Summarizer) { s.recorder = r }
}

// New 创建摘要器。secondary 可为 nil。
func New(config Config, primary, secondary Backend, logger *zap.Logger, opts ...Option) *Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if config.MaxMessages <= 0 {
		config.MaxMessages = defaults.MaxMessages
	}
	if config.MaxBullets <= 0 || config.MaxBullets > defaults.MaxBullets {
		config.MaxBullets = defaults.MaxBullets
	}
	if config.MaxBulletRunes <= 0 {
		config.MaxBulletRunes = defaults.MaxBulletRunes
	}
	s := &Summarizer{
		config:    config,
		primary:   primary,
		secondary: secondary,
		logger:    logger.With(zap.String("component", "summarizer")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summarize 返回以 "- " 开头、最多 5 行的摘要。全部后端失败时返回 SUMMARIZATION_FAILURE，
// 调用方应记录并跳过。
func (s *Summarizer) Summarize(ctx context.Context, messages []types.AgentMessage) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}
	if len(messages) > s.config.MaxMessages {
		messages = messages[len(messages)-s.config.MaxMessages:]
	}

	var errs []error
	for _, backend := range []Backend{s.primary, s.secondary} {
		if backend == nil {
			continue
		}
		bullets, err := backend.Summarize(ctx, messages)
		if err == nil {
			if out := s.format(bullets); out != "" {
				s.record(backend.Name(), true)
				return out, nil
			}
			err = fmt.Errorf("%s returned an empty summary", backend.Name())
		}
		s.record(backend.Name(), false)
		s.logger.Warn("summarization backend failed",
			zap.String("backend", backend.Name()),
			zap.Int("messages", len(messages)),
			zap.Error(err),
		)
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return "", types.NewError(types.ErrSummarizationFailure, "no summarization backend configured")
	}
	return "", types.NewError(types.ErrSummarizationFailure, "all summarization backends failed").
		WithCause(errors.Join(errs...))
}

func (s *Summarizer) record(backend string, ok bool) {
	if s.recorder != nil {
		s.recorder.SummarizerCall(backend, ok)
	}
}

// format 清理要点标记、截断并加统一前缀
func (s *Summarizer) format(bullets []string) string {
	lines := make([]string, 0, s.config.MaxBullets)
	for _, b := range bullets {
		b = cleanBullet(b)
		if b == "" {
			continue
		}
		lines = append(lines, bulletPrefix+truncate(b, s.config.MaxBulletRunes))
		if len(lines) == s.config.MaxBullets {
			break
		}
	}
	return strings.Join(lines, "\n")
}

// cleanBullet 去掉 "-", "*", "•", "1." 一类的前缀并折叠空白
func cleanBullet(line string) string {
	line = strings.TrimSpace(line)
	for {
		trimmed := strings.TrimLeft(line, "-*•· \t")
		// "1." / "2)" 编号
		i := 0
		for i < len(trimmed) && trimmed[i] >= '0' && trimmed[i] <= '9' {
			i++
		}
		if i > 0 && i < len(trimmed) && (trimmed[i] == '.' || trimmed[i] == ')') {
			trimmed = trimmed[i+1:]
		}
		trimmed = strings.TrimSpace(trimmed)
		if trimmed == line {
			break
		}
		line = trimmed
	}
	return strings.Join(strings.Fields(line), " ")
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:max-1]), " ") + "…"
}
