package txpool

import (
	"context"

	xerrors "AgentNFT-Chain/internal/errors"
	"AgentNFT-Chain/internal/types"
)

// Store 抽象了交易池状态的持久化接口。
type Store interface {
	Create(ctx context.Context, entry *Entry) error
	Get(ctx context.Context, id string) (*Entry, error)
	Claim(ctx context.Context, id string) (*Entry, error)
	MarkIncluded(ctx context.Context, id string, receipt *types.Receipt) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	List(ctx context.Context, opts ListOptions) ([]*Entry, error)
	Stats(ctx context.Context, opts ListOptions) (PoolStats, error)
	Close() error
}
