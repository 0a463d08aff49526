package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context bundles a run context with an optional GORM transaction. Repos use
// the transaction when present and fall back to their own handle otherwise.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

func New(ctx context.Context) Context {
	return Context{Ctx: ctx}
}

func WithTx(ctx context.Context, tx *gorm.DB) Context {
	return Context{Ctx: ctx, Tx: tx}
}
