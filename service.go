package apikit

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/uptrace/bun"
	"go.uber.org/zap"
	jsonpatch "gopkg.in/evanphx/json-patch.v4"
)

// DefaultMaxBulkLimit is the number of items written per batch by bulk operations.
const DefaultMaxBulkLimit = 1000

// Hooks customize a Service. Every hook is optional.
type Hooks[T Entity[K], K comparable, D any] struct {
	// ValidateData runs after the configured validator.
	ValidateData func(ctx context.Context, items []D) error

	// CreateModel builds a new entity from a DTO. Defaults to the mapper.
	CreateModel func(ctx context.Context, dto D) (T, error)

	// UpdateModel applies a DTO to an existing entity. Defaults to the mapper.
	UpdateModel func(ctx context.Context, entity T, dto D) (T, error)

	// CreateRelationData and UpdateRelationData write data related to the entity.
	// Returning true saves pending writes.
	CreateRelationData func(ctx context.Context, entity T, dto D) (bool, error)
	UpdateRelationData func(ctx context.Context, entity T, dto D) (bool, error)

	// PostCreate and PostUpdate run after the entities are written.
	// Returning true saves pending writes.
	PostCreate func(ctx context.Context, entities []T) (bool, error)
	PostUpdate func(ctx context.Context, entity T) (bool, error)

	// PreDelete runs before an entity is deleted.
	PreDelete func(ctx context.Context, id K) error

	// Filter narrows reads after the configured Filter.
	Filter func(ctx context.Context, q *bun.SelectQuery) *bun.SelectQuery
}

// ServiceConfig configures a Service. Zero values select the defaults.
type ServiceConfig[T Entity[K], K comparable, D any] struct {
	Authorizer   Authorizer[T]
	Mapper       Mapper[T, D]
	Validator    DataValidator[D]
	Hooks        Hooks[T, K, D]
	Filter       Filter
	Paging       PagingConfig
	MaxBulkLimit int
	KeyGenerator KeyGenerator[K]
	Logger       *zap.Logger
}

// BulkUpdate is one item of a bulk update.
type BulkUpdate[K comparable, D any] struct {
	ID     K `json:"id"`
	Entity D  `json:"entity"`
}

// PatchOperation is one item of a bulk patch. Patch is an RFC 6902 document.
type PatchOperation[K comparable] struct {
	ID    K               `json:"id"`
	Patch json.RawMessage `json:"patch"`
}

// Service implements the CRUD operations of one resource on top of a DataContext,
// with authorization, validation, mapping, filtering, sorting and paging.
//
// Errors carry their HTTP meaning; see StatusCode.
type Service[T Entity[K], K comparable, D any] struct {
	dc         *DataContext[T, K]
	authorizer Authorizer[T]
	mapper     Mapper[T, D]
	validator  DataValidator[D]
	hooks      Hooks[T, K, D]
	filter     Filter
	paging     PagingConfig
	maxBulk    int
	modelType  reflect.Type
	logger     *zap.Logger
}

// NewService creates a Service over dc.
//
// Example:
//
//	notes := apikit.NewService(dc, apikit.ServiceConfig[*Note, uuid.UUID, NoteDTO]{
//	    Authorizer: policy,
//	    Filter:     apikit.NewEqualsFilter(map[string]string{"status": "status"}),
//	})
func NewService[T Entity[K], K comparable, D any](dc *DataContext[T, K], cfg ServiceConfig[T, K, D]) *Service[T, K, D] {
	s := &Service[T, K, D]{
		dc:         dc,
		authorizer: cfg.Authorizer,
		mapper:     cfg.Mapper,
		validator:  cfg.Validator,
		hooks:      cfg.Hooks,
		filter:     cfg.Filter,
		paging:     cfg.Paging,
		maxBulk:    cfg.MaxBulkLimit,
		modelType:  reflect.TypeOf(dc.model()),
		logger:     cfg.Logger,
	}
	if s.authorizer == nil {
		s.authorizer = AllowAll[T]()
	}
	if s.mapper == nil {
		s.mapper = NewJSONMapper[T, K, D](nil, cfg.KeyGenerator)
	}
	if s.validator == nil {
		s.validator = NewStructValidator[D]()
	}
	if s.paging == (PagingConfig{}) {
		s.paging = NewPagingConfig()
	}
	if s.maxBulk <= 0 {
		s.maxBulk = DefaultMaxBulkLimit
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Mapper returns the entity/DTO mapper.
func (s *Service[T, K, D]) Mapper() Mapper[T, D] {
	return s.mapper
}

// DataContext returns the underlying data context.
func (s *Service[T, K, D]) DataContext() *DataContext[T, K] {
	return s.dc
}

// Paging returns the paging configuration.
func (s *Service[T, K, D]) Paging() PagingConfig {
	return s.paging
}

// ============================================================================
// AUTHORIZATION
// ============================================================================

func (s *Service[T, K, D]) authorize(ctx context.Context, entity T, op Operation) error {
	ok, err := s.authorizer.Authorize(ctx, entity, op)
	if err != nil {
		return err
	}
	if !ok {
		return NewError(ErrForbidden, fmt.Sprintf("%s not allowed", op)).
			WithResource(s.dc.resource).
			WithID(entity.GetID()).
			WithRole(GetUserRole(ctx)).
			WithUser(GetUserID(ctx))
	}
	return nil
}

// ============================================================================
// READ
// ============================================================================

// find composes a read for dest with the read options applied.
// A requested sort becomes the primary order and the default order breaks ties.
func (s *Service[T, K, D]) find(ctx context.Context, dest *[]T, preds []QueryFunc, opts ReadOptions) *bun.SelectQuery {
	ctxOpts := opts.Context
	sorted := !opts.SkipSort && len(opts.Sort) > 0
	if sorted {
		ctxOpts = append(append([]ContextOption{}, ctxOpts...), SkipOrder())
	}
	q := s.dc.Find(ctx, dest, preds, ctxOpts...)

	for _, rel := range opts.Includes {
		q = q.Relation(rel)
	}
	if !opts.SkipFilter {
		if s.filter != nil {
			q = s.filter.Apply(ctx, s.dc.resource, q)
		}
		if s.hooks.Filter != nil {
			q = s.hooks.Filter(ctx, q)
		}
	}
	if sorted {
		q = ApplySort(q, s.modelType, opts.Sort, opts.fieldOptions())
		if !newContextOptions(opts.Context).SkipOrder {
			q = s.dc.DefaultOrder(q)
		}
	}
	return q
}

func (s *Service[T, K, D]) scan(ctx context.Context, q *bun.SelectQuery, op string) error {
	if err := q.Scan(ctx); err != nil && !IsNotFound(err) {
		return s.dc.classify(err, op)
	}
	return nil
}

// List returns one page of the collection.
func (s *Service[T, K, D]) List(ctx context.Context, opts ReadOptions) (*Page[T], error) {
	var items []T
	q := s.find(ctx, &items, nil, opts)
	page, err := Paginate(ctx, q, &items, opts.page(s.paging))
	if err != nil {
		return nil, s.dc.classify(err, "List")
	}
	return page, nil
}

// Read returns the entity with key id.
func (s *Service[T, K, D]) Read(ctx context.Context, id K, opts ReadOptions) (T, error) {
	var items []T
	if err := s.scan(ctx, s.find(ctx, &items, []QueryFunc{s.dc.ByID(id)}, opts).Limit(1), "Read"); err != nil {
		return s.dc.model(), err
	}
	if len(items) == 0 {
		return s.dc.model(), s.dc.notFound(id)
	}
	if err := s.authorize(ctx, items[0], OpRead); err != nil {
		return s.dc.model(), err
	}
	return items[0], nil
}

// ReadMany returns the entities with the given keys. Keys that do not exist are skipped.
func (s *Service[T, K, D]) ReadMany(ctx context.Context, ids []K, opts ReadOptions) ([]T, error) {
	items := []T{}
	if err := s.scan(ctx, s.find(ctx, &items, []QueryFunc{s.dc.ByIDs(ids)}, opts), "ReadMany"); err != nil {
		return nil, err
	}
	for _, item := range items {
		if err := s.authorize(ctx, item, OpRead); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// ============================================================================
// PARTIAL READS
// ============================================================================

func (s *Service[T, K, D]) resolveField(field string, opts ReadOptions) (*FieldPath, error) {
	fp, err := ResolveField(s.modelType, field, opts.fieldOptions())
	if err != nil {
		return nil, NewError(ErrNotFound, err.Error()).WithResource(s.dc.resource).WithField(field)
	}
	return fp, nil
}

// ReadField returns one field of the entity with key id.
//
// Example:
//
//	// GET /notes/:id/creation-time
//	v, err := svc.ReadField(ctx, id, "creation-time", apikit.ReadOptions{})
func (s *Service[T, K, D]) ReadField(ctx context.Context, id K, field string, opts ReadOptions) (any, error) {
	fp, err := s.resolveField(field, opts)
	if err != nil {
		return nil, err
	}
	if fp.Relation != "" {
		opts.Includes = append(append([]string{}, opts.Includes...), fp.Relation)
	}
	entity, err := s.Read(ctx, id, opts)
	if err != nil {
		return nil, err
	}
	value := fp.Value(entity)
	if value == nil {
		return nil, NewError(ErrNotFound, "field has no value").WithResource(s.dc.resource).WithID(id).WithField(field)
	}
	return value, nil
}

// ReadFieldItem returns the item at index of a list field.
func (s *Service[T, K, D]) ReadFieldItem(ctx context.Context, id K, field string, index int, opts ReadOptions) (any, error) {
	fp, err := s.resolveField(field, opts)
	if err != nil {
		return nil, err
	}
	if !fp.IsList() {
		return nil, NewError(ErrBadRequest, "field is not a list").WithResource(s.dc.resource).WithField(field)
	}
	value, err := s.ReadField(ctx, id, field, opts)
	if err != nil {
		return nil, err
	}
	items := listValues(value)
	if index < 0 || index >= len(items) {
		return nil, NewError(ErrNotFound, fmt.Sprintf("index %d out of range", index)).
			WithResource(s.dc.resource).WithID(id).WithField(field)
	}
	return items[index], nil
}

// ListField returns one page of a field selected across the filtered collection.
// List fields are flattened.
func (s *Service[T, K, D]) ListField(ctx context.Context, field string, opts ReadOptions) (*Page[any], error) {
	fp, err := s.resolveField(field, opts)
	if err != nil {
		return nil, err
	}
	if fp.Relation != "" {
		opts.Includes = append(append([]string{}, opts.Includes...), fp.Relation)
	}

	items := []T{}
	if err := s.scan(ctx, s.find(ctx, &items, nil, opts), "ListField"); err != nil {
		return nil, err
	}

	values := make([]any, 0, len(items))
	for _, item := range items {
		v := fp.Value(item)
		if v == nil {
			continue
		}
		if fp.IsList() {
			values = append(values, listValues(v)...)
			continue
		}
		values = append(values, v)
	}
	return PageSlice(values, opts.page(s.paging)), nil
}

// ============================================================================
// CREATE
// ============================================================================

func (s *Service[T, K, D]) validate(ctx context.Context, items []D) error {
	if err := s.validator.Validate(ctx, items); err != nil {
		return err
	}
	if s.hooks.ValidateData != nil {
		return s.hooks.ValidateData(ctx, items)
	}
	return nil
}

func (s *Service[T, K, D]) createModel(ctx context.Context, dto D) (T, error) {
	if s.hooks.CreateModel != nil {
		return s.hooks.CreateModel(ctx, dto)
	}
	return s.mapper.ToEntity(dto, s.dc.model())
}

func (s *Service[T, K, D]) updateModel(ctx context.Context, entity T, dto D) (T, error) {
	if s.hooks.UpdateModel != nil {
		return s.hooks.UpdateModel(ctx, entity, dto)
	}
	return s.mapper.ToEntity(dto, entity)
}

func (s *Service[T, K, D]) createRelationData(ctx context.Context, entity T, dto D) (bool, error) {
	if s.hooks.CreateRelationData == nil {
		return false, nil
	}
	return s.hooks.CreateRelationData(ctx, entity, dto)
}

func (s *Service[T, K, D]) updateRelationData(ctx context.Context, entity T, dto D) (bool, error) {
	if s.hooks.UpdateRelationData == nil {
		return false, nil
	}
	return s.hooks.UpdateRelationData(ctx, entity, dto)
}

func (s *Service[T, K, D]) postCreate(ctx context.Context, entities []T) (bool, error) {
	if s.hooks.PostCreate == nil {
		return false, nil
	}
	return s.hooks.PostCreate(ctx, entities)
}

func (s *Service[T, K, D]) postUpdate(ctx context.Context, entity T) (bool, error) {
	if s.hooks.PostUpdate == nil {
		return false, nil
	}
	return s.hooks.PostUpdate(ctx, entity)
}

func (s *Service[T, K, D]) saveIf(ctx context.Context, save bool, err error) error {
	if err != nil {
		return err
	}
	if save {
		return s.dc.Save(ctx)
	}
	return nil
}

// CreateEntity authorizes and inserts an already built entity.
func (s *Service[T, K, D]) CreateEntity(ctx context.Context, entity T) (T, error) {
	ctx = ensureUnitOfWork(ctx)
	if err := s.authorize(ctx, entity, OpCreate); err != nil {
		return entity, err
	}
	entity, err := s.dc.Create(ctx, entity)
	if err != nil {
		return entity, err
	}
	save, err := s.postCreate(ctx, []T{entity})
	return entity, s.saveIf(ctx, save, err)
}

// CreateEntities authorizes every entity, then inserts them in batches.
func (s *Service[T, K, D]) CreateEntities(ctx context.Context, entities []T) ([]T, error) {
	ctx = ensureUnitOfWork(ctx)
	for _, e := range entities {
		if err := s.authorize(ctx, e, OpCreate); err != nil {
			return nil, err
		}
	}
	for start := 0; start < len(entities); start += s.maxBulk {
		batch := entities[start:min(start+s.maxBulk, len(entities))]
		if _, err := s.dc.CreateMany(ctx, batch); err != nil {
			return nil, err
		}
		save, err := s.postCreate(ctx, batch)
		if err := s.saveIf(ctx, save, err); err != nil {
			return nil, err
		}
	}
	return entities, nil
}

// Create validates dto, builds the entity and inserts it.
func (s *Service[T, K, D]) Create(ctx context.Context, dto D) (T, error) {
	ctx = ensureUnitOfWork(ctx)
	if err := s.validate(ctx, []D{dto}); err != nil {
		return s.dc.model(), err
	}
	entity, err := s.createModel(ctx, dto)
	if err != nil {
		return entity, err
	}
	entity, err = s.CreateEntity(ctx, entity)
	if err != nil {
		return entity, err
	}
	save, err := s.createRelationData(ctx, entity, dto)
	return entity, s.saveIf(ctx, save, err)
}

type createItem[T, D any] struct {
	entity T
	dto    D
}

// CreateMany validates every DTO, then creates the entities in batches of MaxBulkLimit.
// Each batch is saved, then relation data and PostCreate run for it.
func (s *Service[T, K, D]) CreateMany(ctx context.Context, dtos []D) ([]T, error) {
	ctx = ensureUnitOfWork(ctx)
	if err := s.validate(ctx, dtos); err != nil {
		return nil, err
	}

	created := make([]T, 0, len(dtos))
	batch := make([]createItem[T, D], 0, min(len(dtos), s.maxBulk))
	for i, dto := range dtos {
		entity, err := s.createModel(ctx, dto)
		if err != nil {
			return nil, err
		}
		if err := s.authorize(ctx, entity, OpCreate); err != nil {
			return nil, err
		}
		if err := s.dc.CreateWithoutSave(ctx, entity); err != nil {
			return nil, err
		}
		batch = append(batch, createItem[T, D]{entity: entity, dto: dto})

		if (i+1)%s.maxBulk != 0 && i+1 != len(dtos) {
			continue
		}
		entities, err := s.flushCreate(ctx, batch)
		if err != nil {
			return nil, err
		}
		created = append(created, entities...)
		batch = batch[:0]
	}
	return created, nil
}

func (s *Service[T, K, D]) flushCreate(ctx context.Context, batch []createItem[T, D]) ([]T, error) {
	if err := s.dc.Save(ctx); err != nil {
		return nil, err
	}
	entities := make([]T, 0, len(batch))
	for _, item := range batch {
		if _, err := s.createRelationData(ctx, item.entity, item.dto); err != nil {
			return nil, err
		}
		entities = append(entities, item.entity)
	}
	if _, err := s.postCreate(ctx, entities); err != nil {
		return nil, err
	}
	return entities, s.dc.Save(ctx)
}

// ============================================================================
// UPDATE
// ============================================================================

// UpdateEntity authorizes and writes an already modified entity.
func (s *Service[T, K, D]) UpdateEntity(ctx context.Context, entity T) error {
	ctx = ensureUnitOfWork(ctx)
	if err := s.authorize(ctx, entity, OpUpdate); err != nil {
		return err
	}
	if err := s.dc.Update(ctx, entity); err != nil {
		return err
	}
	save, err := s.postUpdate(ctx, entity)
	return s.saveIf(ctx, save, err)
}

// readForWrite reads the entity unfiltered and checks op on it.
func (s *Service[T, K, D]) readForWrite(ctx context.Context, id K, op Operation) (T, error) {
	entity, err := s.Read(ctx, id, ReadOptions{SkipFilter: true, SkipSort: true})
	if err != nil {
		return entity, err
	}
	return entity, s.authorize(ctx, entity, op)
}

// Update applies dto to the entity with key id.
func (s *Service[T, K, D]) Update(ctx context.Context, id K, dto D) (T, error) {
	ctx = ensureUnitOfWork(ctx)
	entity, err := s.readForWrite(ctx, id, OpUpdate)
	if err != nil {
		return entity, err
	}
	return s.applyUpdate(ctx, entity, dto)
}

func (s *Service[T, K, D]) applyUpdate(ctx context.Context, entity T, dto D) (T, error) {
	if err := s.validate(ctx, []D{dto}); err != nil {
		return entity, err
	}
	entity, err := s.updateModel(ctx, entity, dto)
	if err != nil {
		return entity, err
	}
	if err := s.UpdateEntity(ctx, entity); err != nil {
		return entity, err
	}
	save, err := s.updateRelationData(ctx, entity, dto)
	return entity, s.saveIf(ctx, save, err)
}

// UpdateMany applies every item to its entity, writing in batches of MaxBulkLimit.
func (s *Service[T, K, D]) UpdateMany(ctx context.Context, items []BulkUpdate[K, D]) error {
	ctx = ensureUnitOfWork(ctx)
	ids := make([]K, 0, len(items))
	byID := make(map[K]D, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
		byID[item.ID] = item.Entity
	}
	entities, err := s.readManyForWrite(ctx, ids)
	if err != nil {
		return err
	}
	dtos := make([]D, 0, len(items))
	for _, item := range items {
		dtos = append(dtos, item.Entity)
	}
	if err := s.validate(ctx, dtos); err != nil {
		return err
	}
	pairs := make([]createItem[T, D], 0, len(entities))
	for _, entity := range entities {
		pairs = append(pairs, createItem[T, D]{entity: entity, dto: byID[entity.GetID()]})
	}
	return s.updateEntities(ctx, pairs)
}

// readManyForWrite reads ids with read authorization. Every key must exist.
func (s *Service[T, K, D]) readManyForWrite(ctx context.Context, ids []K) ([]T, error) {
	entities, err := s.ReadMany(ctx, ids, ReadOptions{SkipSort: true})
	if err != nil {
		return nil, err
	}
	if len(entities) != len(uniqueKeys(ids)) {
		return nil, NewError(ErrNotFound, "one or more entities not found").WithResource(s.dc.resource)
	}
	return entities, nil
}

// updateEntities applies each DTO to its entity. readManyForWrite guarantees every
// requested key has an entity, so each pair is complete.
func (s *Service[T, K, D]) updateEntities(ctx context.Context, items []createItem[T, D]) error {
	batch := make([]createItem[T, D], 0, min(len(items), s.maxBulk))
	for i, item := range items {
		updated, err := s.updateModel(ctx, item.entity, item.dto)
		if err != nil {
			return err
		}
		if err := s.authorize(ctx, updated, OpUpdate); err != nil {
			return err
		}
		if err := s.dc.UpdateWithoutSave(ctx, updated); err != nil {
			return err
		}
		batch = append(batch, createItem[T, D]{entity: updated, dto: item.dto})

		if (i+1)%s.maxBulk != 0 && i+1 != len(items) {
			continue
		}
		if err := s.flushUpdate(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
	}
	return nil
}

func (s *Service[T, K, D]) flushUpdate(ctx context.Context, batch []createItem[T, D]) error {
	if err := s.dc.Save(ctx); err != nil {
		return err
	}
	for _, item := range batch {
		if _, err := s.updateRelationData(ctx, item.entity, item.dto); err != nil {
			return err
		}
		if _, err := s.postUpdate(ctx, item.entity); err != nil {
			return err
		}
	}
	return s.dc.Save(ctx)
}

// ============================================================================
// PATCH
// ============================================================================

// Patch applies an RFC 6902 JSON Patch to the DTO of the entity with key id,
// then updates the entity with the result.
//
// Example:
//
//	// PATCH /notes/:id
//	// [{"op": "replace", "path": "/title", "value": "groceries"}]
//	note, err := svc.Patch(ctx, id, body)
func (s *Service[T, K, D]) Patch(ctx context.Context, id K, patch []byte) (T, error) {
	ctx = ensureUnitOfWork(ctx)
	entity, err := s.readForWrite(ctx, id, OpUpdate)
	if err != nil {
		return entity, err
	}
	dto, err := s.patchDTO(entity, patch)
	if err != nil {
		return entity, err
	}
	return s.applyUpdate(ctx, entity, dto)
}

// PatchMany applies every patch to its entity, writing in batches of MaxBulkLimit.
func (s *Service[T, K, D]) PatchMany(ctx context.Context, ops []PatchOperation[K]) error {
	ctx = ensureUnitOfWork(ctx)
	ids := make([]K, 0, len(ops))
	patches := make(map[K][]byte, len(ops))
	for _, op := range ops {
		ids = append(ids, op.ID)
		patches[op.ID] = op.Patch
	}
	entities, err := s.readManyForWrite(ctx, ids)
	if err != nil {
		return err
	}

	pairs := make([]createItem[T, D], 0, len(entities))
	dtos := make([]D, 0, len(entities))
	for _, entity := range entities {
		dto, err := s.patchDTO(entity, patches[entity.GetID()])
		if err != nil {
			return err
		}
		pairs = append(pairs, createItem[T, D]{entity: entity, dto: dto})
		dtos = append(dtos, dto)
	}
	if err := s.validate(ctx, dtos); err != nil {
		return err
	}
	return s.updateEntities(ctx, pairs)
}

func (s *Service[T, K, D]) patchDTO(entity T, patch []byte) (D, error) {
	var dto D
	current, err := s.mapper.ToDTO(entity)
	if err != nil {
		return dto, err
	}
	doc, err := json.Marshal(current)
	if err != nil {
		return dto, fmt.Errorf("failed to encode entity: %w", err)
	}
	p, err := jsonpatch.DecodePatch(patch)
	if err != nil {
		return dto, NewError(ErrBadRequest, fmt.Sprintf("invalid patch: %v", err)).WithResource(s.dc.resource)
	}
	patched, err := p.Apply(doc)
	if err != nil {
		return dto, NewError(ErrBadRequest, fmt.Sprintf("failed to apply patch: %v", err)).WithResource(s.dc.resource)
	}
	if err := json.Unmarshal(patched, &dto); err != nil {
		return dto, NewError(ErrBadRequest, fmt.Sprintf("patched document is invalid: %v", err)).WithResource(s.dc.resource)
	}
	return dto, nil
}

// ============================================================================
// DELETE
// ============================================================================

// Delete removes the entity with key id.
func (s *Service[T, K, D]) Delete(ctx context.Context, id K) error {
	entity, err := s.readForWrite(ctx, id, OpDelete)
	if err != nil {
		return err
	}
	if s.hooks.PreDelete != nil {
		if err := s.hooks.PreDelete(ctx, id); err != nil {
			return err
		}
	}
	if err := s.dc.Delete(ctx, entity); err != nil {
		return err
	}
	s.logger.Debug("entity deleted", zap.String("resource", s.dc.resource), zap.Any("id", id))
	return nil
}

// DeleteMany removes the entities with the given keys.
func (s *Service[T, K, D]) DeleteMany(ctx context.Context, ids []K) error {
	entities, err := s.ReadMany(ctx, ids, ReadOptions{SkipSort: true})
	if err != nil {
		return err
	}
	for _, e := range entities {
		if err := s.authorize(ctx, e, OpDelete); err != nil {
			return err
		}
		if s.hooks.PreDelete != nil {
			if err := s.hooks.PreDelete(ctx, e.GetID()); err != nil {
				return err
			}
		}
	}
	return s.dc.DeleteMany(ctx, entities)
}
