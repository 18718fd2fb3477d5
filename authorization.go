package apikit

import (
	"context"
	"sort"
	"sync"
)

// Operation is an action authorized against an entity.
type Operation string

// Operations checked by Service.
const (
	OpCreate Operation = "create"
	OpRead   Operation = "read"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"

	// OpAll matches every operation without an entry of its own.
	OpAll Operation = "*"
)

// Validator is an entity level check run after a requirement allows an operation.
type Validator[T any] func(ctx context.Context, entity T, info AuthorizationInfo) (bool, error)

// Authorizer decides whether the principal in ctx may perform op on entity.
type Authorizer[T any] interface {
	Authorize(ctx context.Context, entity T, op Operation) (bool, error)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc[T any] func(ctx context.Context, entity T, op Operation) (bool, error)

// Authorize calls f.
func (f AuthorizerFunc[T]) Authorize(ctx context.Context, entity T, op Operation) (bool, error) {
	return f(ctx, entity, op)
}

// AllowAll authorizes every operation.
func AllowAll[T any]() Authorizer[T] {
	return AuthorizerFunc[T](func(context.Context, T, Operation) (bool, error) {
		return true, nil
	})
}

// Requirement is what one role may do with an entity type.
//
// An operation with an entry in Operations uses that entry. Otherwise an OpAll
// entry applies, and otherwise Default. An allowed operation must still pass
// every validator.
type Requirement[T any] struct {
	Operations map[Operation]bool
	Validators []Validator[T]
	Default    bool
}

// NewRequirement creates a requirement with the given default result.
func NewRequirement[T any](def bool) *Requirement[T] {
	return &Requirement[T]{Operations: make(map[Operation]bool), Default: def}
}

// Allows reports whether op is allowed before validators run.
func (r *Requirement[T]) Allows(op Operation) bool {
	if allowed, ok := r.Operations[op]; ok {
		return allowed
	}
	if allowed, ok := r.Operations[OpAll]; ok {
		return allowed
	}
	return r.Default
}

// Check applies the requirement to entity.
func (r *Requirement[T]) Check(ctx context.Context, entity T, op Operation, info AuthorizationInfo) (bool, error) {
	if !r.Allows(op) {
		return false, nil
	}
	for _, v := range r.Validators {
		ok, err := v(ctx, entity, info)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// NoDeleteRequirement allows everything but deletes, and only on entities that
// pass validators. Without validators the entity key must equal the user ID.
func NoDeleteRequirement[T Entity[K], K comparable](parse KeyParser[K], validators ...Validator[T]) *Requirement[T] {
	if len(validators) == 0 {
		validators = []Validator[T]{MatchID[T](parse)}
	}
	r := NewRequirement[T](true)
	r.Operations[OpDelete] = false
	r.Validators = validators
	return r
}

// ReadOnlyRequirement allows reads of entities that pass validators and nothing
// else. Without validators the entity key must equal the user ID.
func ReadOnlyRequirement[T Entity[K], K comparable](parse KeyParser[K], validators ...Validator[T]) *Requirement[T] {
	if len(validators) == 0 {
		validators = []Validator[T]{MatchID[T](parse)}
	}
	r := NewRequirement[T](false)
	r.Operations[OpRead] = true
	r.Validators = validators
	return r
}

// MatchID passes when the entity key equals the principal's user ID.
func MatchID[T Entity[K], K comparable](parse KeyParser[K]) Validator[T] {
	return func(_ context.Context, entity T, info AuthorizationInfo) (bool, error) {
		if info.UserID == "" {
			return false, nil
		}
		id, err := parse(info.UserID)
		if err != nil {
			return false, nil
		}
		return entity.GetID() == id, nil
	}
}

// MatchField passes when owner(entity) equals the principal's user ID.
//
// Example:
//
//	apikit.MatchField(func(n *Note) string { return n.OwnerID.String() })
func MatchField[T any](owner func(T) string) Validator[T] {
	return func(_ context.Context, entity T, info AuthorizationInfo) (bool, error) {
		return info.UserID != "" && owner(entity) == info.UserID, nil
	}
}

// Policy maps roles to requirements. It is built at startup and read concurrently.
type Policy[T any] struct {
	mu    sync.RWMutex
	roles map[string]*Requirement[T]
}

// RoleRequirement is the builder returned by Policy.Role.
type RoleRequirement[T any] struct {
	policy *Policy[T]
	req    *Requirement[T]
}

// NewPolicy creates an empty policy. Roles without a requirement are denied.
//
// Example:
//
//	policy := apikit.NewPolicy[*Note]().
//	    Role("admin").Allow(apikit.OpAll).
//	    Role("user").Allow(apikit.OpRead, apikit.OpCreate).Deny(apikit.OpDelete).
//	        Validate(apikit.MatchField(func(n *Note) string { return n.OwnerID.String() }))
func NewPolicy[T any]() *Policy[T] {
	return &Policy[T]{roles: make(map[string]*Requirement[T])}
}

// Role starts a requirement for role, denying by default.
func (p *Policy[T]) Role(name string) *RoleRequirement[T] {
	req := NewRequirement[T](false)
	p.Set(name, req)
	return &RoleRequirement[T]{policy: p, req: req}
}

// Set registers req for role.
func (p *Policy[T]) Set(role string, req *Requirement[T]) *Policy[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roles[role] = req
	return p
}

// Requirement returns the requirement for role, or nil.
func (p *Policy[T]) Requirement(role string) *Requirement[T] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.roles[role]
}

// Roles returns the configured role names, sorted.
func (p *Policy[T]) Roles() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.roles))
	for name := range p.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Authorize implements Authorizer using the principal in ctx.
// Callers without a role use the DefaultRole requirement.
func (p *Policy[T]) Authorize(ctx context.Context, entity T, op Operation) (bool, error) {
	info := authorizationInfo(GetPrincipal(ctx))
	req := p.Requirement(info.UserRole)
	if req == nil {
		return false, nil
	}
	return req.Check(ctx, entity, op, info)
}

// Allow allows ops.
func (r *RoleRequirement[T]) Allow(ops ...Operation) *RoleRequirement[T] {
	for _, op := range ops {
		r.req.Operations[op] = true
	}
	return r
}

// Deny denies ops.
func (r *RoleRequirement[T]) Deny(ops ...Operation) *RoleRequirement[T] {
	for _, op := range ops {
		r.req.Operations[op] = false
	}
	return r
}

// Default sets the result for operations without an entry.
func (r *RoleRequirement[T]) Default(allowed bool) *RoleRequirement[T] {
	r.req.Default = allowed
	return r
}

// Validate appends entity validators.
func (r *RoleRequirement[T]) Validate(validators ...Validator[T]) *RoleRequirement[T] {
	r.req.Validators = append(r.req.Validators, validators...)
	return r
}

// Role continues defining roles on the policy.
func (r *RoleRequirement[T]) Role(name string) *RoleRequirement[T] {
	return r.policy.Role(name)
}

// Policy returns the policy being built.
func (r *RoleRequirement[T]) Policy() *Policy[T] {
	return r.policy
}

// Authorize implements Authorizer so a builder chain can be used directly.
func (r *RoleRequirement[T]) Authorize(ctx context.Context, entity T, op Operation) (bool, error) {
	return r.policy.Authorize(ctx, entity, op)
}
