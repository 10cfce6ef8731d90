package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/Romano-de-la-vega/app-whisper/pkg/models"
)

// MemoryPublisher 基于 Channel 的进程内事件通道
type MemoryPublisher struct {
	events chan models.JobEvent
	mu     sync.RWMutex
	closed bool
}

// NewMemoryPublisher 创建内存发布者
func NewMemoryPublisher(bufferSize int) *MemoryPublisher {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &MemoryPublisher{
		events: make(chan models.JobEvent, bufferSize),
	}
}

// Publish 非阻塞发布，缓冲区满时返回错误
func (mp *MemoryPublisher) Publish(ctx context.Context, event models.JobEvent) error {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	if mp.closed {
		return fmt.Errorf("事件通道已关闭")
	}

	select {
	case mp.events <- event:
		return nil
	default:
		return fmt.Errorf("事件通道已满，丢弃事件 %s (%s)", event.Type, event.JobID)
	}
}

// Events 订阅事件（关闭后 channel 会被关闭）
func (mp *MemoryPublisher) Events() <-chan models.JobEvent {
	return mp.events
}

// Close 关闭通道
func (mp *MemoryPublisher) Close() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.closed {
		return nil
	}
	mp.closed = true
	close(mp.events)
	return nil
}
