package apikit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestNoteService builds a service whose writes never reach the database:
// every case below stops before a query runs.
func newTestNoteService(cfg ServiceConfig[*testNote, int64, testNoteDTO]) *Service[*testNote, int64, testNoteDTO] {
	return NewService(newTestNotes(WithResourceName("notes")), cfg)
}

func denyTitle(title string) Authorizer[*testNote] {
	return AuthorizerFunc[*testNote](func(_ context.Context, n *testNote, _ Operation) (bool, error) {
		return n.Title != title, nil
	})
}

// recordingHooks appends the name of every hook that runs to calls.
func recordingHooks(calls *[]string) Hooks[*testNote, int64, testNoteDTO] {
	return Hooks[*testNote, int64, testNoteDTO]{
		ValidateData: func(_ context.Context, items []testNoteDTO) error {
			*calls = append(*calls, "validate")
			for _, item := range items {
				if item.Status == "invalid" {
					return NewError(ErrValidation, "status is invalid")
				}
			}
			return nil
		},
		CreateModel: func(_ context.Context, dto testNoteDTO) (*testNote, error) {
			*calls = append(*calls, "create-model:"+dto.Title)
			return &testNote{Title: dto.Title, Status: dto.Status}, nil
		},
		CreateRelationData: func(context.Context, *testNote, testNoteDTO) (bool, error) {
			*calls = append(*calls, "create-relation")
			return false, nil
		},
		PostCreate: func(context.Context, []*testNote) (bool, error) {
			*calls = append(*calls, "post-create")
			return false, nil
		},
	}
}

func TestNewService_Defaults(t *testing.T) {
	svc := newTestNoteService(ServiceConfig[*testNote, int64, testNoteDTO]{})
	assert.Equal(t, DefaultMaxBulkLimit, svc.maxBulk)
	assert.Equal(t, NewPagingConfig(), svc.Paging())
	assert.NotNil(t, svc.Mapper())
	assert.Equal(t, "notes", svc.DataContext().Resource())

	svc = newTestNoteService(ServiceConfig[*testNote, int64, testNoteDTO]{MaxBulkLimit: 2})
	assert.Equal(t, 2, svc.maxBulk)
}

func TestService_CreateStopsBeforeWriting(t *testing.T) {
	tests := []struct {
		name      string
		dto       testNoteDTO
		wantErr   error
		wantCalls []string
	}{
		{
			name:      "struct validation fails",
			dto:       testNoteDTO{},
			wantErr:   ErrValidation,
			wantCalls: nil,
		},
		{
			name:      "validate hook fails",
			dto:       testNoteDTO{Title: "ok", Status: "invalid"},
			wantErr:   ErrValidation,
			wantCalls: []string{"validate"},
		},
		{
			name:      "create is forbidden",
			dto:       testNoteDTO{Title: "secret"},
			wantErr:   ErrForbidden,
			wantCalls: []string{"validate", "create-model:secret"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []string
			svc := newTestNoteService(ServiceConfig[*testNote, int64, testNoteDTO]{
				Authorizer: denyTitle("secret"),
				Hooks:      recordingHooks(&calls),
			})
			_, err := svc.Create(context.Background(), tt.dto)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestService_CreateManyForbiddenItem(t *testing.T) {
	var calls []string
	svc := newTestNoteService(ServiceConfig[*testNote, int64, testNoteDTO]{
		Authorizer: denyTitle("secret"),
		Hooks:      recordingHooks(&calls),
	})

	ctx := WithUnitOfWork(context.Background())
	created, err := svc.CreateMany(ctx, []testNoteDTO{{Title: "a"}, {Title: "secret"}, {Title: "c"}})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Nil(t, created)

	// Every item is validated up front and nothing after the forbidden item is built.
	assert.Equal(t, []string{"validate", "create-model:a", "create-model:secret"}, calls)
	assert.Equal(t, 1, PendingWrites(ctx))
}

func TestService_CreateEntityForbidden(t *testing.T) {
	var calls []string
	svc := newTestNoteService(ServiceConfig[*testNote, int64, testNoteDTO]{
		Authorizer: denyTitle("secret"),
		Hooks:      recordingHooks(&calls),
	})

	_, err := svc.CreateEntity(context.Background(), &testNote{Title: "secret"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.CreateEntities(context.Background(), []*testNote{{Title: "a"}, {Title: "secret"}})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Empty(t, calls)
}

func TestService_FieldErrors(t *testing.T) {
	svc := newTestNoteService(ServiceConfig[*testNote, int64, testNoteDTO]{})
	ctx := context.Background()

	tests := []struct {
		name    string
		read    func() error
		wantErr error
	}{
		{"item of a scalar field", func() error {
			_, err := svc.ReadFieldItem(ctx, 1, "title", 0, ReadOptions{})
			return err
		}, ErrBadRequest},
		{"item of an unknown field", func() error {
			_, err := svc.ReadFieldItem(ctx, 1, "nope", 0, ReadOptions{})
			return err
		}, ErrNotFound},
		{"hidden field", func() error {
			_, err := svc.ReadField(ctx, 1, "secret", ReadOptions{})
			return err
		}, ErrNotFound},
		{"unknown collection field", func() error {
			_, err := svc.ListField(ctx, "nope", ReadOptions{})
			return err
		}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.read(), tt.wantErr)
		})
	}
}

func TestService_PatchDTO(t *testing.T) {
	svc := newTestNoteService(ServiceConfig[*testNote, int64, testNoteDTO]{})
	note := &testNote{Title: "groceries", Status: "open", Tags: []string{"home"}}
	note.SetID(3)

	dto, err := svc.patchDTO(note, []byte(`[{"op": "replace", "path": "/title", "value": "errands"}, {"op": "add", "path": "/tags/-", "value": "weekly"}]`))
	require.NoError(t, err)
	assert.Equal(t, testNoteDTO{ID: 3, Title: "errands", Status: "open", Tags: []string{"home", "weekly"}}, dto)

	tests := []struct {
		name  string
		patch string
	}{
		{"not json", `{`},
		{"not a patch", `{"op": "replace"}`},
		{"missing path", `[{"op": "remove", "path": "/nope"}]`},
		{"failed test op", `[{"op": "test", "path": "/title", "value": "other"}]`},
		{"wrong type", `[{"op": "replace", "path": "/title", "value": 5}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.patchDTO(note, []byte(tt.patch))
			assert.ErrorIs(t, err, ErrBadRequest)
			assert.False(t, errors.Is(err, ErrDatabaseError))
		})
	}
}
