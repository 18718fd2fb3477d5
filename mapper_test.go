package apikit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testAccount struct {
	AccountModel[int64]
}

func TestNewEntity(t *testing.T) {
	n := NewEntity[*testNote]()
	require.NotNil(t, n)
	assert.Equal(t, testNote{}, *n)

	assert.Equal(t, 0, NewEntity[int]())
}

func TestJSONMapper(t *testing.T) {
	next := int64(100)
	m := NewJSONMapper[*testNote, int64, testNoteDTO](nil, func() int64 {
		next++
		return next
	})

	t.Run("new entity gets a generated key", func(t *testing.T) {
		n, err := m.ToEntity(testNoteDTO{Title: "a", Tags: []string{"x"}}, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(101), n.GetID())
		assert.Equal(t, "a", n.Title)
		assert.Equal(t, []string{"x"}, n.Tags)
	})

	t.Run("new entity keeps the dto key", func(t *testing.T) {
		n, err := m.ToEntity(testNoteDTO{ID: 5, Title: "b"}, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(5), n.GetID())
	})

	t.Run("existing entity keeps its key", func(t *testing.T) {
		existing := ownedNote(9, "u1")
		existing.Secret = "kept"
		n, err := m.ToEntity(testNoteDTO{ID: 77, Title: "c", OwnerID: "u1"}, existing)
		require.NoError(t, err)
		assert.Same(t, existing, n)
		assert.Equal(t, int64(9), n.GetID())
		assert.Equal(t, "c", n.Title)
		assert.Equal(t, "kept", n.Secret)
	})

	t.Run("to dto", func(t *testing.T) {
		dto, err := m.ToDTO(ownedNote(3, "u1"))
		require.NoError(t, err)
		assert.Equal(t, testNoteDTO{ID: 3, OwnerID: "u1"}, dto)

		empty, err := m.ToDTO(nil)
		require.NoError(t, err)
		assert.Equal(t, testNoteDTO{}, empty)
	})
}

func TestAccountMapper(t *testing.T) {
	passwords := NewPasswordService(bcrypt.MinCost)
	m := NewAccountMapper[*testAccount, int64](passwords, nil)

	created, err := m.ToEntity(AccountDTO[int64]{ID: 1, Username: "ann", Role: "user", Password: "s3cret"}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", created.GetPassword())
	assert.True(t, passwords.Verify(created.GetPassword(), "s3cret"))

	hash := created.GetPassword()
	updated, err := m.ToEntity(AccountDTO[int64]{ID: 1, Username: "ann2", Role: "user"}, created)
	require.NoError(t, err)
	assert.Equal(t, hash, updated.GetPassword())
	assert.Equal(t, "ann2", updated.Username)

	dto, err := m.ToDTO(updated)
	require.NoError(t, err)
	assert.Empty(t, dto.Password)
	assert.Equal(t, "ann2", dto.Username)
}

func TestMapperFunc(t *testing.T) {
	m := MapperFunc[*testNote, string]{
		Entity: func(title string, existing *testNote) (*testNote, error) { return &testNote{Title: title}, nil },
		DTO:    func(n *testNote) (string, error) { return n.Title, nil },
	}
	n, err := m.ToEntity("t", nil)
	require.NoError(t, err)
	s, err := m.ToDTO(n)
	require.NoError(t, err)
	assert.Equal(t, "t", s)
}
