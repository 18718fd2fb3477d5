package main

import (
	"context"
	"fmt"

	"github.com/fernandezvara/apikit"
	"github.com/fernandezvara/dbkit"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const roleAdmin = "admin"
const roleUser = "user"

// Account is a user of the sample API.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:a"`
	apikit.AccountModel[uuid.UUID]
}

// Note is a short text owned by an account.
type Note struct {
	bun.BaseModel `bun:"table:notes,alias:n"`
	apikit.TimestampedModel[uuid.UUID]

	OwnerID string   `bun:"owner_id,notnull" json:"ownerId"`
	Title   string   `bun:"title,notnull" json:"title"`
	Body    string   `bun:"body" json:"body"`
	Tags    []string `bun:"tags,array" json:"tags"`
}

// NoteDTO is the wire shape of a Note.
type NoteDTO struct {
	ID      uuid.UUID `json:"id"`
	OwnerID string    `json:"ownerId"`
	Title   string    `json:"title" validate:"required,max=200"`
	Body    string    `json:"body" validate:"max=10000"`
	Tags    []string  `json:"tags" validate:"max=20,dive,max=40"`
}

var notesMigration = dbkit.Migration{
	ID:          "sample-002",
	Description: "Create notes table",
	SQL: `
                CREATE TABLE IF NOT EXISTS notes (
                    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
                    owner_id TEXT NOT NULL,
                    title TEXT NOT NULL,
                    body TEXT NOT NULL DEFAULT '',
                    tags TEXT[] NOT NULL DEFAULT '{}',
                    creation_time TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    modification_time TIMESTAMPTZ NOT NULL DEFAULT current_timestamp
                );
                CREATE INDEX IF NOT EXISTS idx_notes_owner ON notes(owner_id);`,
}

type app struct {
	tk       *apikit.Toolkit
	accounts *apikit.Resource[*Account, uuid.UUID, apikit.AccountDTO[uuid.UUID]]
	notes    *apikit.Resource[*Note, uuid.UUID, NoteDTO]
	auth     *apikit.Authenticator[*Account, uuid.UUID]
}

func newApp(tk *apikit.Toolkit) (*app, error) {
	accountMapper := apikit.NewAccountMapper[*Account, uuid.UUID](tk.Passwords, apikit.NewUUIDKey)

	accounts, err := apikit.NewResource(tk, apikit.ResourceConfig[*Account, uuid.UUID, apikit.AccountDTO[uuid.UUID]]{
		Name:          "accounts",
		QueryProvider: apikit.NopQueryProvider,
		Service: apikit.ServiceConfig[*Account, uuid.UUID, apikit.AccountDTO[uuid.UUID]]{
			Authorizer: apikit.NewPolicy[*Account]().
				Set(roleAdmin, apikit.NewRequirement[*Account](true)).
				Set(roleUser, apikit.NoDeleteRequirement[*Account, uuid.UUID](apikit.ParseUUIDKey)).
				Set(apikit.RoleQueueWorker, apikit.ReadOnlyRequirement[*Account, uuid.UUID](apikit.ParseUUIDKey, anyAccount)).
				Role(apikit.DefaultRole).Allow(apikit.OpCreate).
				Policy(),
			Mapper: accountMapper,
			Hooks: apikit.Hooks[*Account, uuid.UUID, apikit.AccountDTO[uuid.UUID]]{
				ValidateData: restrictAccountRoles,
				CreateModel: func(ctx context.Context, dto apikit.AccountDTO[uuid.UUID]) (*Account, error) {
					if dto.Role == "" {
						dto.Role = roleUser
					}
					return accountMapper.ToEntity(dto, nil)
				},
				UpdateModel: func(ctx context.Context, account *Account, dto apikit.AccountDTO[uuid.UUID]) (*Account, error) {
					if dto.Role == "" {
						dto.Role = account.Role
					}
					return accountMapper.ToEntity(dto, account)
				},
			},
		},
		DefaultRules: apikit.Roles(roleAdmin, roleUser),
		Routes: map[apikit.Route]*apikit.RouteRules{
			apikit.RouteCreate:     apikit.Anonymous(),
			apikit.RouteList:       apikit.Roles(roleAdmin),
			apikit.RouteCreateMany: apikit.Roles(roleAdmin),
			apikit.RouteDelete:     apikit.Roles(roleAdmin),
		},
		Migrations: []dbkit.Migration{apikit.AccountMigration("sample-001", "accounts")},
	})
	if err != nil {
		return nil, err
	}

	notes, err := apikit.NewResource(tk, apikit.ResourceConfig[*Note, uuid.UUID, NoteDTO]{
		Name:          "notes",
		QueryProvider: apikit.OwnerQueryProvider("owner_id", roleAdmin),
		Service: apikit.ServiceConfig[*Note, uuid.UUID, NoteDTO]{
			Authorizer: apikit.NewPolicy[*Note]().
				Role(roleAdmin).Allow(apikit.OpAll).
				Role(roleUser).Allow(apikit.OpAll).
				Validate(apikit.MatchField(func(n *Note) string { return n.OwnerID })).
				Policy(),
			Filter: apikit.NewEqualsFilter(map[string]string{"title": "title"}),
			Hooks: apikit.Hooks[*Note, uuid.UUID, NoteDTO]{
				CreateModel: stampOwner,
			},
		},
		DefaultRules: apikit.Roles(roleAdmin, roleUser),
		Read:         apikit.NewReadOptions().WithNesting(apikit.DefaultMaxNestingLevel),
		Migrations:   []dbkit.Migration{notesMigration},
	})
	if err != nil {
		return nil, err
	}

	var auth *apikit.Authenticator[*Account, uuid.UUID]
	if tk.Tokens != nil {
		auth = apikit.NewAuthenticator(accounts.Data, tk.Tokens, tk.Passwords, apikit.AuthenticatorConfig[*Account, uuid.UUID]{
			Logger: tk.Logger,
		})
	}

	return &app{tk: tk, accounts: accounts, notes: notes, auth: auth}, nil
}

// anyAccount lets the queue worker read every account.
func anyAccount(context.Context, *Account, apikit.AuthorizationInfo) (bool, error) {
	return true, nil
}

// restrictAccountRoles keeps non-admins from granting roles.
func restrictAccountRoles(ctx context.Context, items []apikit.AccountDTO[uuid.UUID]) error {
	if apikit.GetPrincipal(ctx).IsInRole(roleAdmin) {
		return nil
	}
	for _, item := range items {
		if item.Role != "" && item.Role != roleUser {
			return apikit.NewError(apikit.ErrForbidden, fmt.Sprintf("role %q cannot be assigned", item.Role)).WithRole(item.Role)
		}
	}
	return nil
}

func stampOwner(ctx context.Context, dto NoteDTO) (*Note, error) {
	if dto.OwnerID == "" || !apikit.GetPrincipal(ctx).IsInRole(roleAdmin) {
		dto.OwnerID = apikit.GetUserID(ctx)
	}
	return &Note{
		TimestampedModel: apikit.TimestampedModel[uuid.UUID]{Model: apikit.Model[uuid.UUID]{ID: uuid.New()}},
		OwnerID:          dto.OwnerID,
		Title:            dto.Title,
		Body:             dto.Body,
		Tags:             dto.Tags,
	}, nil
}

func (a *app) router() *gin.Engine {
	r := a.tk.Router()
	api := r.Group("/api")
	if a.auth != nil {
		api.POST("/login", a.auth.LoginHandler())
	}
	a.accounts.Mount(api)
	a.notes.Mount(api)
	return r
}
