package apikit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordService(t *testing.T) {
	ps := NewPasswordService(bcrypt.MinCost)

	hash, err := ps.Hash("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)

	assert.True(t, ps.Verify(hash, "correct horse"))
	assert.False(t, ps.Verify(hash, "battery staple"))
	assert.False(t, ps.Verify("", "correct horse"))
	assert.False(t, ps.Verify("not-a-hash", "correct horse"))
}

func TestPasswordService_HashRejects(t *testing.T) {
	ps := NewPasswordService(bcrypt.MinCost)

	_, err := ps.Hash("")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ps.Hash(strings.Repeat("x", 73))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNewPasswordService_CostOutOfRange(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewPasswordService(0).cost)
	assert.Equal(t, bcrypt.DefaultCost, NewPasswordService(bcrypt.MaxCost+1).cost)
	assert.Equal(t, 5, NewPasswordService(5).cost)
}
