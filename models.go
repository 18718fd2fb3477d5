package apikit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Entity is a persistent model with an identity key.
// Models implement it through a pointer receiver, so T is usually *Model.
type Entity[K comparable] interface {
	GetID() K
	SetID(K)
}

// Model is the embeddable identity part of an entity.
//
// Example:
//
//	type Note struct {
//	    bun.BaseModel `bun:"table:notes,alias:n"`
//	    apikit.TimestampedModel[uuid.UUID]
//
//	    Title string `bun:"title,notnull" json:"title"`
//	}
type Model[K comparable] struct {
	ID K `bun:"id,pk" json:"id"`
}

// GetID returns the entity key.
func (m *Model[K]) GetID() K {
	return m.ID
}

// SetID replaces the entity key.
func (m *Model[K]) SetID(id K) {
	m.ID = id
}

// Timestamped is implemented by entities that track their creation time.
type Timestamped interface {
	CreatedAt() time.Time
}

// TimestampedModel is a Model stamped with creation and modification times.
type TimestampedModel[K comparable] struct {
	Model[K]

	CreationTime     time.Time `bun:"creation_time,nullzero,notnull,default:current_timestamp" json:"creationTime"`
	ModificationTime time.Time `bun:"modification_time,nullzero,notnull,default:current_timestamp" json:"modificationTime"`
}

// CreatedAt returns the creation time.
func (m *TimestampedModel[K]) CreatedAt() time.Time {
	return m.CreationTime
}

var _ bun.BeforeAppendModelHook = (*TimestampedModel[string])(nil)

// BeforeAppendModel stamps both times on insert and the modification time on update.
func (m *TimestampedModel[K]) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if m.CreationTime.IsZero() {
			m.CreationTime = now
		}
		m.ModificationTime = now
	case *bun.UpdateQuery:
		m.ModificationTime = now
	}
	return nil
}

// Account is an entity that can authenticate with a password.
type Account[K comparable] interface {
	Entity[K]
	GetPassword() string
	SetPassword(string)
	GetRole() string
}

// AccountModel is the embeddable part of an account entity.
// The password hash never leaves the server.
type AccountModel[K comparable] struct {
	TimestampedModel[K]

	Username string `bun:"username,notnull,unique" json:"username"`
	Role     string `bun:"role,notnull" json:"role"`
	Password string `bun:"password,notnull" json:"-"`
}

// GetPassword returns the stored password hash.
func (a *AccountModel[K]) GetPassword() string {
	return a.Password
}

// SetPassword replaces the stored password hash.
func (a *AccountModel[K]) SetPassword(hash string) {
	a.Password = hash
}

// GetRole returns the account role.
func (a *AccountModel[K]) GetRole() string {
	return a.Role
}

// AccountDTO is the wire shape of an account.
// Password is accepted on input and never emitted.
type AccountDTO[K comparable] struct {
	ID       K      `json:"id"`
	Username string `json:"username" validate:"required"`
	Role     string `json:"role"`
	Password string `json:"password,omitempty"`
}

// KeyParser converts a route parameter into an entity key.
type KeyParser[K comparable] func(string) (K, error)

// KeyGenerator produces a fresh entity key.
type KeyGenerator[K comparable] func() K

// ParseUUIDKey parses UUID route parameters.
func ParseUUIDKey(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, NewError(ErrBadRequest, fmt.Sprintf("invalid id %q", s))
	}
	return id, nil
}

// ParseInt64Key parses integer route parameters.
func ParseInt64Key(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, NewError(ErrBadRequest, fmt.Sprintf("invalid id %q", s))
	}
	return id, nil
}

// ParseStringKey accepts any non-empty route parameter.
func ParseStringKey(s string) (string, error) {
	if s == "" {
		return "", NewError(ErrBadRequest, "empty id")
	}
	return s, nil
}

// NewUUIDKey generates random UUID keys.
func NewUUIDKey() uuid.UUID {
	return uuid.New()
}

func isZeroKey[K comparable](id K) bool {
	var zero K
	return id == zero
}
