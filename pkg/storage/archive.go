package storage

import (
	"context"

	"github.com/Romano-de-la-vega/app-whisper/pkg/models"
)

// Archive 已结束任务的归档接口
// 归档只写不读：进程重启后任务注册表不会从归档恢复
type Archive interface {
	// Archive 写入一份任务快照（按任务 ID 覆盖）
	Archive(ctx context.Context, job models.Job) error

	// Close 关闭归档连接
	Close() error
}

// NopArchive 不做任何归档
type NopArchive struct{}

func (NopArchive) Archive(ctx context.Context, job models.Job) error { return nil }

func (NopArchive) Close() error { return nil }
