package memory

import (
	"context"
	"sync"

	"storyloom/internal/domain/repositories"
)

// MemoryTransactionManager serializes ExecTx callers behind a single mutex.
// The in-memory repositories are individually atomic already; the mutex gives
// multi-step sequences the same mutual exclusion a database transaction would.
// There is no rollback: a failed TxFn may leave earlier steps applied, which
// is acceptable for tests and dev mode.
type MemoryTransactionManager struct {
	mu sync.Mutex
}

// NewTransactionManager creates a new in-memory transaction manager
func NewTransactionManager() repositories.TransactionManager {
	return &MemoryTransactionManager{}
}

// ExecTx executes fn while holding the manager's mutex
func (tm *MemoryTransactionManager) ExecTx(ctx context.Context, fn repositories.TxFn) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return fn(ctx)
}
