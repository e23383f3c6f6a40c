package repositories

import (
	"context"
)

// TxFn is a function executed within a transaction context.
// Repositories called with the passed context automatically join the
// transaction.
type TxFn func(ctx context.Context) error

// TransactionManager runs a function inside a single atomic unit.
// The postgres implementation opens a pgx transaction; the in-memory
// implementation serializes callers behind a mutex.
type TransactionManager interface {
	ExecTx(ctx context.Context, fn TxFn) error
}
