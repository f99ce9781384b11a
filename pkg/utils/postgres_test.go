package utils

import (
	"context"
	"database/sql"
	"testing"
)

func TestInTx_FalseOutsideUnitOfWork(t *testing.T) {
	if InTx(context.Background()) {
		t.Fatalf("expected no tx on background context")
	}
}

func TestQ_FallsBackToPool(t *testing.T) {
	// Without a tx in ctx, Q must hand back the pool it was given.
	db := &sql.DB{}
	if q := Q(context.Background(), db); q != Querier(db) {
		t.Fatalf("expected pool querier")
	}
}
