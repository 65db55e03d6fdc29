package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"time"

	"github.com/BaSui01/agentcoord/llm/retry"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// transientMarkers 各驱动瞬时错误的消息片段（小写）
var transientMarkers = []string{
	"deadlock",
	"serialization failure",
	"could not serialize access",
	"sqlstate 40001",
	"sqlstate 40p01",
	"database is locked", // sqlite SQLITE_BUSY
	"database table is locked",
	"lock wait timeout", // mysql 1205
	"connection reset",
	"connection refused",
	"broken pipe",
	"bad connection",
}

// IsTransient 报告错误是否值得在新事务中重试
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// TxPolicy 返回事务重试策略：retries 次指数退避，起始 50ms
func TxPolicy(retries int) retry.Policy {
	return retry.Policy{
		MaxRetries:   retries,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2,
		Jitter:       true,
		Retryable:    IsTransient,
	}
}

// Transact 在事务中执行 fn。瞬时错误整体回滚后在新事务中重试，其余错误立即返回。
// fn 可能被执行多次，不能有事务外的副作用。
func Transact(ctx context.Context, db *gorm.DB, retries int, logger *zap.Logger, fn func(tx *gorm.DB) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	_, err := retry.Do(ctx, TxPolicy(retries), logger, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, db.WithContext(ctx).Transaction(fn)
	})
	return err
}
