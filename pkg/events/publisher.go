package events

import (
	"context"

	"github.com/Romano-de-la-vega/app-whisper/pkg/models"
)

// Publisher 任务生命周期事件发布接口
// 发布失败只记录日志，不影响任务本身
type Publisher interface {
	// Publish 发布一个事件
	Publish(ctx context.Context, event models.JobEvent) error

	// Close 关闭发布者
	Close() error
}

// NopPublisher 丢弃所有事件
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event models.JobEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
