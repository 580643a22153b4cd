// Package runlock は集約ランの多重起動を防ぐロックを提供する。
//
// 単一プロセスではLocal、複数のワーカーが同じデータベースを共有する場合は
// RedisLockを使う。
package runlock

import (
	"context"
	"errors"
	"sync"
)

// ErrLocked は別のランがロックを保持していることを表す。
var ErrLocked = errors.New("run lock is held")

// Locker はランロックのインターフェース。
type Locker interface {
	// TryAcquire はロックの取得を試みる。取得できた場合は解放関数を返す。
	// 保持されている場合は待たずにErrLockedを返す。
	TryAcquire(ctx context.Context) (release func(), err error)
}

// Local はプロセス内で有効なランロック。
type Local struct {
	mu sync.Mutex
}

// NewLocal はLocalを生成する。
func NewLocal() *Local {
	return &Local{}
}

// TryAcquire はsync.Mutex.TryLockでロックを取得する。
func (l *Local) TryAcquire(ctx context.Context) (func(), error) {
	if !l.mu.TryLock() {
		return nil, ErrLocked
	}
	var once sync.Once
	return func() { once.Do(l.mu.Unlock) }, nil
}

var _ Locker = (*Local)(nil)
