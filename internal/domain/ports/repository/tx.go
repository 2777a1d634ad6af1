package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle. Repositories accept it alongside ctx
// and detect the concrete type (pgx.Tx for Postgres) implementation-side;
// nil means "run against the pool".
type Tx interface{}

var NoTX Tx

// TransactionManager executes a function inside one database transaction.
// If fn returns an error the transaction is rolled back, otherwise committed.
// Keeps use-case interfaces clean of driver transaction types.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
