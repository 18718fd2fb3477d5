package apikit

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Mapper converts between entities and DTOs.
type Mapper[T, D any] interface {
	// ToEntity maps dto onto existing, or onto a new entity when existing is nil.
	ToEntity(dto D, existing T) (T, error)
	ToDTO(entity T) (D, error)
}

// MapperFunc adapts two functions to Mapper.
type MapperFunc[T, D any] struct {
	Entity func(dto D, existing T) (T, error)
	DTO    func(entity T) (D, error)
}

// ToEntity implements Mapper.
func (m MapperFunc[T, D]) ToEntity(dto D, existing T) (T, error) {
	return m.Entity(dto, existing)
}

// ToDTO implements Mapper.
func (m MapperFunc[T, D]) ToDTO(entity T) (D, error) {
	return m.DTO(entity)
}

// NewEntity allocates a T. Pointer types get a pointer to a new zero value.
func NewEntity[T any]() T {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil || t.Kind() != reflect.Pointer {
		return zero
	}
	return reflect.New(t.Elem()).Interface().(T)
}

// JSONMapper maps by encoding one side to JSON and decoding it into the other.
// Fields share their JSON names.
//
// Keys follow the entity: an existing entity keeps its key, a new entity takes the
// DTO key, and a zero key is filled by the key generator when one is set.
type JSONMapper[T Entity[K], K comparable, D any] struct {
	factory func() T
	keyGen  KeyGenerator[K]
}

// NewJSONMapper creates a JSONMapper. A nil factory uses NewEntity.
func NewJSONMapper[T Entity[K], K comparable, D any](factory func() T, keyGen KeyGenerator[K]) *JSONMapper[T, K, D] {
	if factory == nil {
		factory = NewEntity[T]
	}
	return &JSONMapper[T, K, D]{factory: factory, keyGen: keyGen}
}

// ToEntity implements Mapper.
func (m *JSONMapper[T, K, D]) ToEntity(dto D, existing T) (T, error) {
	target := existing
	isNew := isNil(existing)
	if isNew {
		target = m.factory()
	}
	id := target.GetID()

	if err := convertJSON(dto, target); err != nil {
		return target, err
	}

	switch {
	case !isNew:
		target.SetID(id)
	case isZeroKey(target.GetID()) && m.keyGen != nil:
		target.SetID(m.keyGen())
	}
	return target, nil
}

// ToDTO implements Mapper.
func (m *JSONMapper[T, K, D]) ToDTO(entity T) (D, error) {
	var dto D
	if isNil(entity) {
		return dto, nil
	}
	if err := convertJSON(entity, &dto); err != nil {
		return dto, err
	}
	return dto, nil
}

func convertJSON(from, to any) error {
	data, err := json.Marshal(from)
	if err != nil {
		return NewError(ErrBadRequest, fmt.Sprintf("failed to encode: %v", err))
	}
	if err := json.Unmarshal(data, to); err != nil {
		return NewError(ErrBadRequest, fmt.Sprintf("failed to decode: %v", err))
	}
	return nil
}

// AccountMapper maps accounts, hashing incoming passwords.
// An update without a password keeps the stored hash, and DTOs never carry one.
type AccountMapper[T Account[K], K comparable] struct {
	base      *JSONMapper[T, K, AccountDTO[K]]
	passwords *PasswordService
}

// NewAccountMapper creates an AccountMapper.
func NewAccountMapper[T Account[K], K comparable](passwords *PasswordService, keyGen KeyGenerator[K]) *AccountMapper[T, K] {
	return &AccountMapper[T, K]{
		base:      NewJSONMapper[T, K, AccountDTO[K]](nil, keyGen),
		passwords: passwords,
	}
}

// ToEntity implements Mapper.
func (m *AccountMapper[T, K]) ToEntity(dto AccountDTO[K], existing T) (T, error) {
	var hash string
	if !isNil(existing) {
		hash = existing.GetPassword()
	}
	entity, err := m.base.ToEntity(dto, existing)
	if err != nil {
		return entity, err
	}
	if dto.Password != "" {
		hash, err = m.passwords.Hash(dto.Password)
		if err != nil {
			return entity, err
		}
	}
	entity.SetPassword(hash)
	return entity, nil
}

// ToDTO implements Mapper.
func (m *AccountMapper[T, K]) ToDTO(entity T) (AccountDTO[K], error) {
	dto, err := m.base.ToDTO(entity)
	dto.Password = ""
	return dto, err
}
