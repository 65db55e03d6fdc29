package natsbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Client NATS 连接的薄封装
type Client struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// Connect 连接到 url
func Connect(url string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "natsbus"))
	conn, err := nats.Connect(url,
		nats.Name("agentcoord"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{conn: conn, logger: logger}, nil
}

// NewClient 连接到内嵌服务器
func NewClient(bus *Bus, logger *zap.Logger) (*Client, error) {
	return Connect(bus.ClientURL(), logger)
}

// Publish 发布原始字节
func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// PublishJSON 以 JSON 编码发布
func (c *Client) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return c.conn.Publish(subject, data)
}

// RequestJSON 以 JSON 发送请求并把回复解码到 out
func (c *Client) RequestJSON(subject string, v any, out any, timeout time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	reply, err := c.conn.Request(subject, data, timeout)
	if err != nil {
		return fmt.Errorf("request %s: %w", subject, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(reply.Data, out); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

// Subscribe 订阅 subject，支持 NATS 通配符
func (c *Client) Subscribe(subject string, handler func(msg *nats.Msg)) (*nats.Subscription, error) {
	return c.conn.Subscribe(subject, handler)
}

// Flush 等待服务器确认已发送的消息
func (c *Client) Flush() error {
	return c.conn.Flush()
}

// Close 关闭连接，未发送的消息先被刷出
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}
