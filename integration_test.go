package apikit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"
	"testing"

	"github.com/fernandezvara/dbkit"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
)

type testItem struct {
	bun.BaseModel `bun:"table:apikit_items,alias:i"`
	TimestampedModel[uuid.UUID]

	OwnerID  string   `bun:"owner_id" json:"ownerId"`
	Name     string   `bun:"name" json:"name"`
	Quantity int      `bun:"quantity" json:"quantity"`
	Tags     []string `bun:"tags,array" json:"tags"`
}

type testItemDTO struct {
	ID       uuid.UUID `json:"id"`
	OwnerID  string    `json:"ownerId"`
	Name     string    `json:"name" validate:"required"`
	Quantity int       `json:"quantity" validate:"min=0"`
	Tags     []string  `json:"tags"`
}

var itemsMigration = dbkit.Migration{
	ID:          "test-001",
	Description: "Create apikit_items table",
	SQL: `
        CREATE TABLE IF NOT EXISTS apikit_items (
            id UUID PRIMARY KEY,
            owner_id TEXT NOT NULL,
            name TEXT NOT NULL,
            quantity INTEGER NOT NULL DEFAULT 0,
            tags TEXT[],
            creation_time TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
            modification_time TIMESTAMPTZ NOT NULL DEFAULT current_timestamp
        )`,
}

// testPostgres is started once and shared by every integration test.
var testPostgres struct {
	once      sync.Once
	url       string
	container *postgres.PostgresContainer
	err       error
}

func TestMain(m *testing.M) {
	code := m.Run()
	if testPostgres.container != nil {
		_ = testPostgres.container.Terminate(context.Background())
	}
	os.Exit(code)
}

func startPostgres(ctx context.Context) (string, *postgres.PostgresContainer, error) {
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url, nil, nil
	}
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("apikit_test"),
		postgres.WithUsername("apikit"),
		postgres.WithPassword("apikit"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
		),
	)
	if err != nil {
		return "", nil, err
	}
	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return "", nil, err
	}
	return connStr, container, nil
}

// integrationToolkit connects to the test database, skipping when none is available.
func integrationToolkit(t *testing.T) *Toolkit {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	testPostgres.once.Do(func() {
		testPostgres.url, testPostgres.container, testPostgres.err = startPostgres(context.Background())
	})
	if testPostgres.err != nil {
		t.Skipf("database not available: %v", testPostgres.err)
	}

	db, err := Open(DatabaseConfig{URL: testPostgres.url, Pool: DefaultPoolConfig()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Ping(context.Background()))
	require.NoError(t, db.Migrate(context.Background(), []dbkit.Migration{itemsMigration}))
	return NewToolkit(db)
}

func newItems(t *testing.T, tk *Toolkit, cfg ResourceConfig[*testItem, uuid.UUID, testItemDTO]) *Resource[*testItem, uuid.UUID, testItemDTO] {
	t.Helper()
	cfg.Name = "items"
	items, err := NewResource(tk, cfg)
	require.NoError(t, err)
	return items
}

func ownedBy(owner string) QueryFunc {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.owner_id = ?", owner)
	}
}

func TestIntegration_CRUD(t *testing.T) {
	tk := integrationToolkit(t)
	items := newItems(t, tk, ResourceConfig[*testItem, uuid.UUID, testItemDTO]{})
	svc := items.Service
	ctx := context.Background()
	owner := uuid.NewString()

	_, err := svc.Create(ctx, testItemDTO{OwnerID: owner})
	assert.ErrorIs(t, err, ErrValidation)

	created, err := svc.Create(ctx, testItemDTO{OwnerID: owner, Name: "widget", Quantity: 2, Tags: []string{"a", "b"}})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, created.GetID())
	id := created.GetID()

	read, err := svc.Read(ctx, id, NewReadOptions())
	require.NoError(t, err)
	assert.Equal(t, "widget", read.Name)
	assert.Equal(t, []string{"a", "b"}, read.Tags)
	assert.False(t, read.CreationTime.IsZero())

	_, err = svc.Update(ctx, id, testItemDTO{OwnerID: owner, Name: "gadget", Quantity: 3})
	require.NoError(t, err)

	_, err = svc.Patch(ctx, id, []byte(`[{"op":"replace","path":"/quantity","value":9}]`))
	require.NoError(t, err)

	read, err = svc.Read(ctx, id, NewReadOptions())
	require.NoError(t, err)
	assert.Equal(t, "gadget", read.Name)
	assert.Equal(t, 9, read.Quantity)

	quantity, err := svc.ReadField(ctx, id, "quantity", NewReadOptions())
	require.NoError(t, err)
	assert.Equal(t, 9, quantity)

	_, err = svc.Patch(ctx, id, []byte(`[{"op":"replace","path":"/quantity","value":-1}]`))
	assert.ErrorIs(t, err, ErrValidation)

	require.NoError(t, svc.Delete(ctx, id))
	_, err = svc.Read(ctx, id, NewReadOptions())
	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(svc.Delete(ctx, id)))
}

func TestIntegration_ListSortFilterPage(t *testing.T) {
	tk := integrationToolkit(t)
	items := newItems(t, tk, ResourceConfig[*testItem, uuid.UUID, testItemDTO]{
		Service: ServiceConfig[*testItem, uuid.UUID, testItemDTO]{
			Filter: NewEqualsFilter(map[string]string{"owner": "owner_id"}),
		},
	})
	owner := uuid.NewString()
	ctx := context.Background()

	created, err := items.Service.CreateMany(ctx, []testItemDTO{
		{OwnerID: owner, Name: "c"},
		{OwnerID: owner, Name: "a"},
		{OwnerID: owner, Name: "b"},
	})
	require.NoError(t, err)
	require.Len(t, created, 3)

	ctx = WithQueryValues(ctx, url.Values{"owner": {owner}})
	opts := NewReadOptions().
		WithSort(ParseSort([]string{"name"})...).
		WithPage(PageRequest{Page: 1, Limit: 2, CountTotal: true})

	page, err := items.Service.List(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Size)
	assert.Equal(t, 2, page.CurrentSize)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "a", page.Data[0].Name)
	assert.Equal(t, "b", page.Data[1].Name)

	page, err = items.Service.List(ctx, opts.WithSort(ParseSort([]string{"-name"})...).WithPage(PageRequest{Page: 2, Limit: 2}))
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "a", page.Data[0].Name)

	names, err := items.Service.ListField(ctx, "name", opts.WithPage(PageRequest{Page: 1, Limit: 10}))
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"a", "b", "c"}, names.Data)

	ids := []uuid.UUID{created[0].GetID(), created[1].GetID()}
	require.NoError(t, items.Service.DeleteMany(ctx, ids))
	n, err := items.Data.Count(ctx, []QueryFunc{ownedBy(owner)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIntegration_TransactionRollback(t *testing.T) {
	tk := integrationToolkit(t)
	items := newItems(t, tk, ResourceConfig[*testItem, uuid.UUID, testItemDTO]{})
	owner := uuid.NewString()
	ctx := context.Background()
	rollback := errors.New("rollback")

	err := tk.DB.Transaction(ctx, func(ctx context.Context) error {
		if _, err := items.Service.Create(ctx, testItemDTO{OwnerID: owner, Name: "ghost"}); err != nil {
			return err
		}
		n, err := items.Data.Count(ctx, []QueryFunc{ownedBy(owner)})
		if err != nil {
			return err
		}
		assert.Equal(t, 1, n)
		return rollback
	})
	assert.ErrorIs(t, err, rollback)

	n, err := items.Data.Count(ctx, []QueryFunc{ownedBy(owner)})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, int64(1), tk.DB.TransactionMetrics().FailedTransactions)
}

func TestIntegration_UnitOfWork(t *testing.T) {
	tk := integrationToolkit(t)
	items := newItems(t, tk, ResourceConfig[*testItem, uuid.UUID, testItemDTO]{})
	owner := uuid.NewString()
	ctx := WithUnitOfWork(context.Background())

	for _, name := range []string{"x", "y"} {
		require.NoError(t, items.Data.CreateWithoutSave(ctx, &testItem{OwnerID: owner, Name: name}))
	}
	n, err := items.Data.Count(ctx, []QueryFunc{ownedBy(owner)})
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, items.Data.Save(ctx))
	assert.Zero(t, PendingWrites(ctx))

	found, err := items.Data.FindAll(ctx, []QueryFunc{ownedBy(owner)})
	require.NoError(t, err)
	require.Len(t, found, 2)

	ok, err := items.Data.ExistsIDs(ctx, []uuid.UUID{found[0].GetID(), uuid.New()}, AllExist())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = items.Data.ExistsIDs(ctx, []uuid.UUID{found[0].GetID(), found[1].GetID()}, AllExist())
	require.NoError(t, err)
	assert.True(t, ok)

	// A Save inside a transaction counts once, as part of that transaction.
	tk.DB.ResetTransactionMetrics()
	err = tk.DB.Transaction(ctx, func(ctx context.Context) error {
		if err := items.Data.CreateWithoutSave(ctx, &testItem{OwnerID: owner, Name: "z"}); err != nil {
			return err
		}
		return items.Data.Save(ctx)
	})
	require.NoError(t, err)
	m := tk.DB.TransactionMetrics()
	assert.Equal(t, int64(1), m.TotalTransactions)
	assert.Equal(t, int64(1), m.SuccessfulTransactions)
}

func TestIntegration_OwnerScopeAndPolicy(t *testing.T) {
	tk := integrationToolkit(t)
	policy := NewPolicy[*testItem]().
		Role("admin").Allow(OpAll).
		Role("user").Allow(OpRead, OpUpdate).Deny(OpDelete).
		Validate(MatchField(func(i *testItem) string { return i.OwnerID })).
		Policy()
	items := newItems(t, tk, ResourceConfig[*testItem, uuid.UUID, testItemDTO]{
		QueryProvider: OwnerQueryProvider("owner_id", "admin"),
		Service:       ServiceConfig[*testItem, uuid.UUID, testItemDTO]{Authorizer: policy},
	})

	owner := uuid.NewString()
	adminCtx := WithPrincipal(context.Background(), NewPrincipal("root", "admin"))
	ownerCtx := WithPrincipal(context.Background(), NewPrincipal(owner, "user"))
	otherCtx := WithPrincipal(context.Background(), NewPrincipal(uuid.NewString(), "user"))

	item, err := items.Service.Create(adminCtx, testItemDTO{OwnerID: owner, Name: "mine"})
	require.NoError(t, err)
	id := item.GetID()

	_, err = items.Service.Read(ownerCtx, id, NewReadOptions())
	assert.NoError(t, err)

	_, err = items.Service.Read(otherCtx, id, NewReadOptions())
	assert.True(t, IsNotFound(err))

	_, err = items.Service.Read(context.Background(), id, NewReadOptions())
	assert.True(t, IsNotFound(err))

	err = items.Service.Delete(ownerCtx, id)
	assert.True(t, IsForbidden(err))

	require.NoError(t, items.Service.Delete(adminCtx, id))
}

func itemNamed(owner, name string) QueryFunc {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.owner_id = ?", owner).Where("?TableAlias.name = ?", name)
	}
}

func itemNames(t *testing.T, items *Resource[*testItem, uuid.UUID, testItemDTO], owner string) []string {
	t.Helper()
	found, err := items.Data.FindAll(context.Background(), []QueryFunc{ownedBy(owner)})
	require.NoError(t, err)
	names := make([]string, 0, len(found))
	for _, item := range found {
		names = append(names, item.Name)
	}
	return names
}

func TestIntegration_BulkBatches(t *testing.T) {
	tk := integrationToolkit(t)
	var calls []string
	items := newItems(t, tk, ResourceConfig[*testItem, uuid.UUID, testItemDTO]{
		Service: ServiceConfig[*testItem, uuid.UUID, testItemDTO]{
			MaxBulkLimit: 2,
			Hooks: Hooks[*testItem, uuid.UUID, testItemDTO]{
				CreateRelationData: func(_ context.Context, i *testItem, _ testItemDTO) (bool, error) {
					calls = append(calls, "relation "+i.Name)
					return false, nil
				},
				PostCreate: func(_ context.Context, batch []*testItem) (bool, error) {
					calls = append(calls, fmt.Sprintf("post %d", len(batch)))
					return false, nil
				},
				PostUpdate: func(_ context.Context, i *testItem) (bool, error) {
					calls = append(calls, "updated "+i.Name)
					return false, nil
				},
			},
		},
	})
	svc := items.Service
	owner := uuid.NewString()
	ctx := context.Background()

	var dtos []testItemDTO
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		dtos = append(dtos, testItemDTO{OwnerID: owner, Name: name})
	}
	created, err := svc.CreateMany(ctx, dtos)
	require.NoError(t, err)
	require.Len(t, created, 5)
	assert.Equal(t, []string{
		"relation a", "relation b", "post 2",
		"relation c", "relation d", "post 2",
		"relation e", "post 1",
	}, calls)

	updates := make([]BulkUpdate[uuid.UUID, testItemDTO], 0, len(created))
	for _, item := range created {
		updates = append(updates, BulkUpdate[uuid.UUID, testItemDTO]{
			ID:     item.GetID(),
			Entity: testItemDTO{OwnerID: owner, Name: item.Name + "2"},
		})
	}

	// An unknown key fails the whole update before anything is written.
	calls = nil
	missing := append(append([]BulkUpdate[uuid.UUID, testItemDTO]{}, updates...),
		BulkUpdate[uuid.UUID, testItemDTO]{ID: uuid.New(), Entity: testItemDTO{OwnerID: owner, Name: "ghost"}})
	assert.ErrorIs(t, svc.UpdateMany(ctx, missing), ErrNotFound)
	assert.Empty(t, calls)
	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, itemNames(t, items, owner))

	require.NoError(t, svc.UpdateMany(ctx, updates))
	assert.ElementsMatch(t, []string{"updated a2", "updated b2", "updated c2", "updated d2", "updated e2"}, calls)
	assert.ElementsMatch(t, []string{"a2", "b2", "c2", "d2", "e2"}, itemNames(t, items, owner))

	// Unknown keys are skipped by DeleteMany.
	ids := []uuid.UUID{created[0].GetID(), uuid.New(), created[1].GetID()}
	require.NoError(t, svc.DeleteMany(ctx, ids))
	assert.ElementsMatch(t, []string{"c2", "d2", "e2"}, itemNames(t, items, owner))
}

func TestIntegration_ExistAll(t *testing.T) {
	tk := integrationToolkit(t)
	items := newItems(t, tk, ResourceConfig[*testItem, uuid.UUID, testItemDTO]{})
	owner := uuid.NewString()
	ctx := context.Background()

	_, err := items.Service.CreateMany(ctx, []testItemDTO{
		{OwnerID: owner, Name: "bolt"},
		{OwnerID: owner, Name: "nut"},
	})
	require.NoError(t, err)

	tests := []struct {
		name  string
		names []string
		want  bool
	}{
		{"none", nil, true},
		{"one", []string{"nut"}, true},
		{"all", []string{"bolt", "nut"}, true},
		{"one missing", []string{"bolt", "washer"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			preds := make([]QueryFunc, 0, len(tt.names))
			for _, name := range tt.names {
				preds = append(preds, itemNamed(owner, name))
			}
			ok, err := items.Data.ExistAll(ctx, preds)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestIntegration_Upsert(t *testing.T) {
	tk := integrationToolkit(t)
	items := newItems(t, tk, ResourceConfig[*testItem, uuid.UUID, testItemDTO]{})
	owner := uuid.NewString()
	ctx := context.Background()

	created, err := items.Service.Create(ctx, testItemDTO{OwnerID: owner, Name: "draft"})
	require.NoError(t, err)

	replacement := func() *testItem {
		i := &testItem{OwnerID: owner, Name: "final", Quantity: 4}
		i.SetID(created.GetID())
		return i
	}

	_, err = items.Data.Create(ctx, replacement())
	assert.ErrorIs(t, err, ErrConflict)

	_, err = items.Data.Create(ctx, replacement(), Upsert())
	require.NoError(t, err)

	read, err := items.Service.Read(ctx, created.GetID(), NewReadOptions())
	require.NoError(t, err)
	assert.Equal(t, "final", read.Name)
	assert.Equal(t, 4, read.Quantity)
	assert.Equal(t, []string{"final"}, itemNames(t, items, owner))
}

func TestIntegration_FieldItemsAndPatchErrors(t *testing.T) {
	tk := integrationToolkit(t)
	items := newItems(t, tk, ResourceConfig[*testItem, uuid.UUID, testItemDTO]{})
	svc := items.Service
	owner := uuid.NewString()
	ctx := context.Background()

	created, err := svc.CreateMany(ctx, []testItemDTO{
		{OwnerID: owner, Name: "left", Tags: []string{"a", "b"}},
		{OwnerID: owner, Name: "right"},
	})
	require.NoError(t, err)
	id := created[0].GetID()

	tag, err := svc.ReadFieldItem(ctx, id, "tags", 1, NewReadOptions())
	require.NoError(t, err)
	assert.Equal(t, "b", tag)

	_, err = svc.ReadFieldItem(ctx, id, "tags", 5, NewReadOptions())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.ReadFieldItem(ctx, id, "name", 0, NewReadOptions())
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = svc.Patch(ctx, id, []byte(`{`))
	assert.ErrorIs(t, err, ErrBadRequest)

	err = svc.PatchMany(ctx, []PatchOperation[uuid.UUID]{
		{ID: created[0].GetID(), Patch: []byte(`[{"op":"replace","path":"/name","value":"renamed"}]`)},
		{ID: created[1].GetID(), Patch: []byte(`[{"op":"remove","path":"/nope"}]`)},
	})
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.ElementsMatch(t, []string{"left", "right"}, itemNames(t, items, owner))
}
