// Package apikit builds REST resources on top of bun, dbkit and gin.
//
// A resource is three layers stacked on one entity type:
//
//   - DataContext: typed data access with context-scoped transactions, a unit of
//     work, query providers and upserts.
//   - Service: authorization, validation, DTO mapping, filtering, sorting, paging,
//     field reads, bulk operations and JSON Patch.
//   - Controller: gin routes that translate requests into Service calls and wrap
//     results in a Response envelope.
//
// # Basic Usage
//
//	// 1. Define the entity and its DTO
//	type Note struct {
//	    bun.BaseModel `bun:"table:notes"`
//	    apikit.TimestampedModel[uuid.UUID]
//	    OwnerID string `bun:"owner_id" json:"ownerId"`
//	    Title   string `bun:"title" json:"title"`
//	}
//
//	type NoteDTO struct {
//	    ID    uuid.UUID `json:"id"`
//	    Title string    `json:"title" validate:"required,max=200"`
//	}
//
//	// 2. Build the toolkit
//	db, _ := apikit.Open(apikit.DatabaseConfig{URL: os.Getenv("DATABASE_URL")})
//	tokens, _ := apikit.NewTokenService(apikit.TokenConfig{Secret: secret})
//	tk := apikit.NewToolkit(db, apikit.WithTokenService(tokens))
//
//	// 3. Declare the resource
//	notes, _ := apikit.NewResource(tk, apikit.ResourceConfig[*Note, uuid.UUID, NoteDTO]{
//	    Name:          "notes",
//	    QueryProvider: apikit.OwnerQueryProvider("owner_id", "admin"),
//	    DefaultRules:  apikit.Roles("user", "admin"),
//	    Routes: map[apikit.Route]*apikit.RouteRules{
//	        apikit.RouteDelete: apikit.Roles("admin"),
//	    },
//	})
//
//	// 4. Serve
//	router := tk.Router()
//	notes.Mount(router.Group("/api"))
//	router.Run(":8080")
//
// # Routes
//
// Mounting a resource at /notes registers:
//
//	GET    /notes                      list, paged with ?page=&limit=&total= and sorted with ?sort=-title
//	GET    /notes/fields/:field        one field of every entity
//	GET    /notes/:id                  one entity
//	GET    /notes/:id/:field           one field
//	GET    /notes/:id/:field/:index    one element of a list field
//	POST   /notes                      create
//	POST   /notes/bulk                 create many
//	PUT    /notes/:id                  update
//	PUT    /notes/bulk                 update many
//	PATCH  /notes/:id                  JSON Patch
//	PATCH  /notes/bulk                 JSON Patch many
//	DELETE /notes/:id                  delete
//	DELETE /notes/bulk                 delete many
//
// Route rules fall back to related routes and then to the resource default.
// A route without rules answers 404.
//
// # Authorization
//
// A Policy holds one Requirement per role. Requirements allow operations outright or
// run Validators against the entity:
//
//	policy := apikit.NewPolicy[*Note]().
//	    Role("admin").Allow(apikit.OpAll).
//	    Role("user").Allow(apikit.OpRead, apikit.OpCreate, apikit.OpUpdate).
//	        Validate(apikit.MatchField(func(n *Note) string { return n.OwnerID })).
//	    Policy()
//
// # Transactions
//
// Transactions travel in the context. Every DataContext call made with the context
// passed to fn joins the transaction, and nested calls become savepoints:
//
//	err := db.Transaction(ctx, func(ctx context.Context) error {
//	    if _, err := notes.Create(ctx, note); err != nil {
//	        return err
//	    }
//	    _, err := tags.CreateMany(ctx, noteTags)
//	    return err
//	})
//
// Writes can also be queued on a unit of work and flushed together with Save.
//
// # Errors
//
// Errors wrap package sentinels such as ErrNotFound and ErrForbidden. StatusCode maps
// them to HTTP statuses and GenerateError writes the matching envelope.
package apikit
