package apikit

import (
	"context"
	"sync"

	"github.com/fernandezvara/dbkit"
)

type pendingOp func(ctx context.Context, db dbkit.IDB) error

// unitOfWork collects writes queued with the *WithoutSave operations until Save.
type unitOfWork struct {
	mu  sync.Mutex
	ops []pendingOp
}

func (u *unitOfWork) add(op pendingOp) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.ops = append(u.ops, op)
}

func (u *unitOfWork) take() []pendingOp {
	u.mu.Lock()
	defer u.mu.Unlock()
	ops := u.ops
	u.ops = nil
	return ops
}

// pending returns the number of queued writes.
func (u *unitOfWork) pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.ops)
}

// WithUnitOfWork returns a context that queues writes made through the
// DataContext *WithoutSave operations. Queued writes run on Save.
//
// Example:
//
//	ctx = apikit.WithUnitOfWork(ctx)
//	_ = notes.CreateWithoutSave(ctx, a)
//	_ = notes.CreateWithoutSave(ctx, b)
//	err := notes.Save(ctx) // one transaction
func WithUnitOfWork(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKeyUnitOfWork, &unitOfWork{})
}

// HasUnitOfWork reports whether ctx carries a unit of work.
func HasUnitOfWork(ctx context.Context) bool {
	return unitOfWorkFromContext(ctx) != nil
}

// PendingWrites returns the number of writes queued on the unit of work in ctx.
func PendingWrites(ctx context.Context) int {
	if u := unitOfWorkFromContext(ctx); u != nil {
		return u.pending()
	}
	return 0
}

func unitOfWorkFromContext(ctx context.Context) *unitOfWork {
	if v := ctx.Value(contextKeyUnitOfWork); v != nil {
		if u, ok := v.(*unitOfWork); ok {
			return u
		}
	}
	return nil
}

// ensureUnitOfWork reuses the unit of work in ctx or starts one.
func ensureUnitOfWork(ctx context.Context) context.Context {
	if HasUnitOfWork(ctx) {
		return ctx
	}
	return WithUnitOfWork(ctx)
}
