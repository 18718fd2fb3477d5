package apikit

import (
	"context"
	"fmt"
	"time"

	"github.com/fernandezvara/dbkit"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// QueryFunc is a query predicate.
//
// Example:
//
//	open := func(q *bun.SelectQuery) *bun.SelectQuery {
//	    return q.Where("?TableAlias.status = ?", "open")
//	}
type QueryFunc func(*bun.SelectQuery) *bun.SelectQuery

type dataContextOptions struct {
	idColumn string
	resource string
	provider ResourceQueryProvider
	keyGen   any
	logger   *zap.Logger
}

// DataContextOption configures a DataContext.
type DataContextOption func(*dataContextOptions)

// WithIDColumn sets the key column. Defaults to "id".
func WithIDColumn(column string) DataContextOption {
	return func(o *dataContextOptions) { o.idColumn = column }
}

// WithResourceName names the resource for query providers and logs.
func WithResourceName(name string) DataContextOption {
	return func(o *dataContextOptions) { o.resource = name }
}

// WithQueryProvider scopes every read through provider.
func WithQueryProvider(provider ResourceQueryProvider) DataContextOption {
	return func(o *dataContextOptions) { o.provider = provider }
}

// WithKeyGenerator assigns keys to entities created with a zero key.
func WithKeyGenerator[K comparable](gen KeyGenerator[K]) DataContextOption {
	return func(o *dataContextOptions) { o.keyGen = gen }
}

// WithContextLogger sets the logger.
func WithContextLogger(logger *zap.Logger) DataContextOption {
	return func(o *dataContextOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// DataContext is the data access layer of one entity type.
// Every call joins the transaction carried by ctx, if any.
type DataContext[T Entity[K], K comparable] struct {
	db       *Database
	idColumn string
	resource string
	provider ResourceQueryProvider
	keyGen   KeyGenerator[K]
	logger   *zap.Logger
}

// NewDataContext creates a DataContext for T.
//
// Example:
//
//	notes := apikit.NewDataContext[*Note, uuid.UUID](db,
//	    apikit.WithResourceName("notes"),
//	    apikit.WithKeyGenerator(apikit.NewUUIDKey),
//	)
func NewDataContext[T Entity[K], K comparable](db *Database, opts ...DataContextOption) *DataContext[T, K] {
	o := dataContextOptions{idColumn: "id", logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	dc := &DataContext[T, K]{
		db:       db,
		idColumn: o.idColumn,
		resource: o.resource,
		provider: o.provider,
		logger:   o.logger,
	}
	switch gen := o.keyGen.(type) {
	case KeyGenerator[K]:
		dc.keyGen = gen
	case func() K:
		dc.keyGen = gen
	}
	return dc
}

// Resource returns the resource name.
func (dc *DataContext[T, K]) Resource() string {
	return dc.resource
}

// Database returns the database the context writes to.
func (dc *DataContext[T, K]) Database() *Database {
	return dc.db
}

func (dc *DataContext[T, K]) conn(ctx context.Context) dbkit.IDB {
	return dc.db.Conn(ctx)
}

func (dc *DataContext[T, K]) model() T {
	var zero T
	return zero
}

func (dc *DataContext[T, K]) notFound(id any) error {
	return NewError(ErrNotFound, "entity not found").WithResource(dc.resource).WithID(id)
}

// classify maps driver errors onto package sentinels.
func (dc *DataContext[T, K]) classify(err error, op string) error {
	if err == nil {
		return nil
	}
	switch {
	case dbkit.IsDuplicate(err):
		return &Error{Err: ErrConflict, Message: fmt.Sprintf("%s: duplicate entity", op), Resource: dc.resource}
	case dbkit.IsNotFound(err):
		return &Error{Err: ErrNotFound, Message: fmt.Sprintf("%s: entity not found", op), Resource: dc.resource}
	}
	return &Error{Err: ErrDatabaseError, Message: fmt.Sprintf("%s: %v", op, err), Resource: dc.resource}
}

func (dc *DataContext[T, K]) assignKey(entity T) {
	if dc.keyGen != nil && isZeroKey(entity.GetID()) {
		entity.SetID(dc.keyGen())
	}
}

// ByID matches the entity with key id.
func (dc *DataContext[T, K]) ByID(id K) QueryFunc {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.? = ?", bun.Ident(dc.idColumn), id)
	}
}

// ByIDs matches entities whose key is one of ids.
func (dc *DataContext[T, K]) ByIDs(ids []K) QueryFunc {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		if len(ids) == 0 {
			return q.Where("1 = 0")
		}
		return q.Where("?TableAlias.? IN (?)", bun.Ident(dc.idColumn), bun.In(ids))
	}
}

// DefaultOrder orders Timestamped entities by creation time and others by key.
func (dc *DataContext[T, K]) DefaultOrder(q *bun.SelectQuery) *bun.SelectQuery {
	if _, ok := any(dc.model()).(Timestamped); ok {
		return q.OrderExpr("?TableAlias.creation_time ASC")
	}
	return q.OrderExpr("?TableAlias.? ASC", bun.Ident(dc.idColumn))
}

// Find composes a select into dest: provider scope, predicates, default order.
// The query is returned unexecuted so callers can add relations, order or paging.
func (dc *DataContext[T, K]) Find(ctx context.Context, dest *[]T, preds []QueryFunc, opts ...ContextOption) *bun.SelectQuery {
	o := newContextOptions(opts)
	return dc.compose(ctx, dc.conn(ctx).NewSelect().Model(dest), preds, o)
}

// Query composes a select like Find without binding a destination.
// It is meant for Count and Exists style queries.
func (dc *DataContext[T, K]) Query(ctx context.Context, preds []QueryFunc, opts ...ContextOption) *bun.SelectQuery {
	o := newContextOptions(opts)
	o.SkipOrder = true
	return dc.compose(ctx, dc.conn(ctx).NewSelect().Model(dc.model()), preds, o)
}

func (dc *DataContext[T, K]) compose(ctx context.Context, q *bun.SelectQuery, preds []QueryFunc, o ContextOptions) *bun.SelectQuery {
	if !o.SkipQueryProvider && dc.provider != nil {
		q = dc.provider.Scope(ctx, dc.resource, q)
	}
	switch {
	case len(preds) == 0:
	case o.MatchAny:
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			for _, pred := range preds {
				q = q.WhereGroup(" OR ", pred)
			}
			return q
		})
	default:
		for _, pred := range preds {
			q = q.WhereGroup(" AND ", pred)
		}
	}
	if !o.SkipOrder {
		q = dc.DefaultOrder(q)
	}
	return q
}

// FindOne returns the entity with key id.
func (dc *DataContext[T, K]) FindOne(ctx context.Context, id K, opts ...ContextOption) (T, error) {
	entity, err := dc.FindOneWhere(ctx, dc.ByID(id), opts...)
	if IsNotFound(err) {
		return entity, dc.notFound(id)
	}
	return entity, err
}

// FindOneWhere returns the first entity matching pred.
func (dc *DataContext[T, K]) FindOneWhere(ctx context.Context, pred QueryFunc, opts ...ContextOption) (T, error) {
	var items []T
	err := dbkit.WithErr1(dc.Find(ctx, &items, []QueryFunc{pred}, opts...).Limit(1).Scan(ctx), "FindOne").Err()
	if err != nil && !dbkit.IsNotFound(err) {
		return dc.model(), dc.classify(err, "FindOne")
	}
	if len(items) == 0 {
		return dc.model(), dc.notFound(nil)
	}
	return items[0], nil
}

// FindAll returns every entity matching preds.
func (dc *DataContext[T, K]) FindAll(ctx context.Context, preds []QueryFunc, opts ...ContextOption) ([]T, error) {
	items := []T{}
	err := dbkit.WithErr1(dc.Find(ctx, &items, preds, opts...).Scan(ctx), "FindAll").Err()
	if err != nil && !dbkit.IsNotFound(err) {
		return nil, dc.classify(err, "FindAll")
	}
	return items, nil
}

// FindByIDs returns the entities whose key is one of ids. Missing keys are skipped.
func (dc *DataContext[T, K]) FindByIDs(ctx context.Context, ids []K, opts ...ContextOption) ([]T, error) {
	return dc.FindAll(ctx, []QueryFunc{dc.ByIDs(ids)}, opts...)
}

// Count returns the number of entities matching preds.
func (dc *DataContext[T, K]) Count(ctx context.Context, preds []QueryFunc, opts ...ContextOption) (int, error) {
	n, err := dc.Query(ctx, preds, opts...).Count(ctx)
	if err := dbkit.WithErr1(err, "Count").Err(); err != nil {
		return 0, dc.classify(err, "Count")
	}
	return n, nil
}

// Exists reports whether the entity with key id exists.
func (dc *DataContext[T, K]) Exists(ctx context.Context, id K, opts ...ContextOption) (bool, error) {
	return dc.ExistsWhere(ctx, []QueryFunc{dc.ByID(id)}, opts...)
}

// ExistsIDs reports whether any of ids exists, or with AllExist whether all of them do.
func (dc *DataContext[T, K]) ExistsIDs(ctx context.Context, ids []K, opts ...ContextOption) (bool, error) {
	unique := uniqueKeys(ids)
	if len(unique) == 0 {
		return false, nil
	}
	o := newContextOptions(opts)
	if !o.AllExist {
		return dc.ExistsWhere(ctx, []QueryFunc{dc.ByIDs(unique)}, opts...)
	}
	n, err := dc.Count(ctx, []QueryFunc{dc.ByIDs(unique)}, opts...)
	if err != nil {
		return false, err
	}
	return n == len(unique), nil
}

// ExistsWhere reports whether any entity matches preds.
func (dc *DataContext[T, K]) ExistsWhere(ctx context.Context, preds []QueryFunc, opts ...ContextOption) (bool, error) {
	ok, err := dc.Query(ctx, preds, opts...).Exists(ctx)
	if err := dbkit.WithErr1(err, "Exists").Err(); err != nil {
		return false, dc.classify(err, "Exists")
	}
	return ok, nil
}

// ExistAll reports whether every predicate identifies an entity.
// Predicates are OR-ed and the match count must equal their number, so each
// predicate is expected to select at most one row.
func (dc *DataContext[T, K]) ExistAll(ctx context.Context, preds []QueryFunc, opts ...ContextOption) (bool, error) {
	if len(preds) == 0 {
		return true, nil
	}
	n, err := dc.Count(ctx, preds, append(opts, MatchAny())...)
	if err != nil {
		return false, err
	}
	return n == len(preds), nil
}

func (dc *DataContext[T, K]) insert(ctx context.Context, db dbkit.IDB, model any, upsert bool) error {
	q := db.NewInsert().Model(model)
	if upsert {
		q = q.On("CONFLICT (?) DO UPDATE", bun.Ident(dc.idColumn))
	}
	res, err := q.Returning("*").Exec(ctx)
	return dc.classify(dbkit.WithErr(res, err, "Create").Err(), "Create")
}

// Create inserts entity, generating its key when it is zero.
func (dc *DataContext[T, K]) Create(ctx context.Context, entity T, opts ...ContextOption) (T, error) {
	o := newContextOptions(opts)
	dc.assignKey(entity)
	if err := dc.insert(ctx, dc.conn(ctx), entity, o.Upsert); err != nil {
		return entity, err
	}
	return entity, nil
}

// CreateMany inserts entities in one statement.
func (dc *DataContext[T, K]) CreateMany(ctx context.Context, entities []T, opts ...ContextOption) ([]T, error) {
	if len(entities) == 0 {
		return entities, nil
	}
	o := newContextOptions(opts)
	for _, e := range entities {
		dc.assignKey(e)
	}
	if err := dc.insert(ctx, dc.conn(ctx), &entities, o.Upsert); err != nil {
		return nil, err
	}
	return entities, nil
}

// Update writes every column of entity.
func (dc *DataContext[T, K]) Update(ctx context.Context, entity T, opts ...ContextOption) error {
	return dc.update(ctx, dc.conn(ctx), entity)
}

func (dc *DataContext[T, K]) update(ctx context.Context, db dbkit.IDB, entity T) error {
	res, err := db.NewUpdate().Model(entity).WherePK().Exec(ctx)
	if err := dbkit.WithErr(res, err, "Update").Err(); err != nil {
		if dbkit.IsNotFound(err) {
			return dc.notFound(entity.GetID())
		}
		return dc.classify(err, "Update")
	}
	return nil
}

// UpdateMany writes every entity.
func (dc *DataContext[T, K]) UpdateMany(ctx context.Context, entities []T, opts ...ContextOption) error {
	if len(entities) == 0 {
		return nil
	}
	return runInTx(ctx, dc.db.DB(), nil, func(ctx context.Context) error {
		for _, e := range entities {
			if err := dc.Update(ctx, e, opts...); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes entity.
func (dc *DataContext[T, K]) Delete(ctx context.Context, entity T) error {
	return dc.DeleteByIDs(ctx, []K{entity.GetID()})
}

// DeleteMany removes entities.
func (dc *DataContext[T, K]) DeleteMany(ctx context.Context, entities []T) error {
	ids := make([]K, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.GetID())
	}
	return dc.DeleteByIDs(ctx, ids)
}

// DeleteByIDs removes the entities whose key is one of ids.
func (dc *DataContext[T, K]) DeleteByIDs(ctx context.Context, ids []K) error {
	return dc.deleteByIDs(ctx, dc.conn(ctx), ids)
}

func (dc *DataContext[T, K]) deleteByIDs(ctx context.Context, db dbkit.IDB, ids []K) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := db.NewDelete().
		Model(dc.model()).
		Where("? IN (?)", bun.Ident(dc.idColumn), bun.In(ids)).
		Exec(ctx)
	if err := dbkit.WithErr1(err, "Delete").Err(); err != nil {
		return dc.classify(err, "Delete")
	}
	return nil
}

// CreateWithoutSave queues an insert on the unit of work in ctx.
func (dc *DataContext[T, K]) CreateWithoutSave(ctx context.Context, entity T, opts ...ContextOption) error {
	u := unitOfWorkFromContext(ctx)
	if u == nil {
		return ErrNoUnitOfWork
	}
	o := newContextOptions(opts)
	dc.assignKey(entity)
	u.add(func(ctx context.Context, db dbkit.IDB) error {
		return dc.insert(ctx, db, entity, o.Upsert)
	})
	return nil
}

// UpdateWithoutSave queues an update on the unit of work in ctx.
func (dc *DataContext[T, K]) UpdateWithoutSave(ctx context.Context, entity T) error {
	u := unitOfWorkFromContext(ctx)
	if u == nil {
		return ErrNoUnitOfWork
	}
	u.add(func(ctx context.Context, db dbkit.IDB) error {
		return dc.update(ctx, db, entity)
	})
	return nil
}

// DeleteWithoutSave queues a delete on the unit of work in ctx.
func (dc *DataContext[T, K]) DeleteWithoutSave(ctx context.Context, entity T) error {
	u := unitOfWorkFromContext(ctx)
	if u == nil {
		return ErrNoUnitOfWork
	}
	id := entity.GetID()
	u.add(func(ctx context.Context, db dbkit.IDB) error {
		return dc.deleteByIDs(ctx, db, []K{id})
	})
	return nil
}

// Save flushes the writes queued in ctx inside one transaction, or a savepoint
// when ctx already carries a transaction. Without queued writes it does nothing.
func (dc *DataContext[T, K]) Save(ctx context.Context) error {
	u := unitOfWorkFromContext(ctx)
	if u == nil {
		return nil
	}
	ops := u.take()
	if len(ops) == 0 {
		return nil
	}

	// A Save inside Database.Transaction is recorded by the enclosing transaction.
	owned := txFromContext(ctx) == nil
	start := time.Now()
	err := runInTx(ctx, dc.db.DB(), nil, func(ctx context.Context) error {
		conn := dc.conn(ctx)
		for _, op := range ops {
			if err := op(ctx, conn); err != nil {
				return err
			}
		}
		return nil
	})
	if owned {
		dc.db.record(time.Since(start), err == nil)
	}
	if err != nil {
		dc.logger.Warn("save failed",
			zap.String("resource", dc.resource),
			zap.Int("writes", len(ops)),
			zap.Error(err),
		)
		return err
	}
	dc.logger.Debug("saved", zap.String("resource", dc.resource), zap.Int("writes", len(ops)))
	return nil
}

func uniqueKeys[K comparable](ids []K) []K {
	seen := make(map[K]struct{}, len(ids))
	out := make([]K, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
