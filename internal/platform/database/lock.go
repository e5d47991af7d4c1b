package database

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinford/study-rag/internal/core/document"
)

// AdvisoryLocker はPostgreSQLのセッションスコープのアドバイザリロックでプロセス間の排他を行います
type AdvisoryLocker struct {
	pool *pgxpool.Pool
}

// NewAdvisoryLocker は新しいAdvisoryLockerを作成します
func NewAdvisoryLocker(pool *pgxpool.Pool) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool}
}

// GenerateLockID は文字列からロックIDを生成します
func GenerateLockID(parts ...string) int64 {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
	}
	hash := h.Sum(nil)

	// ハッシュの最初の8バイトをint64として使用
	var id int64
	for i := range 8 {
		id = (id << 8) | int64(hash[i])
	}
	return id
}

// TryLock は pg_try_advisory_lock でロックを試みます。
// ロックは取得したコネクションに紐づくため、解放までコネクションを保持します
func (l *AdvisoryLocker) TryLock(ctx context.Context, name string) (func(), bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire connection: %w", err)
	}

	lockID := GenerateLockID(name)
	var ok bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("failed to try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		// 呼び出し元の ctx がタイムアウトしていても解放する
		if _, err := conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", lockID); err != nil {
			// 解放に失敗したコネクションはプールに戻さない
			conn.Conn().Close(context.Background())
		}
		conn.Release()
	}
	return unlock, true, nil
}

var _ document.Locker = (*AdvisoryLocker)(nil)
