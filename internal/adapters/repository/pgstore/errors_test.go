package pgstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/okian/ladder/internal/adapters/repository"
)

func TestMapErr(t *testing.T) {
	assert.NoError(t, mapErr(nil))

	plain := errors.New("connection refused")
	err := mapErr(plain)
	assert.ErrorIs(t, err, repository.ErrStorage)
	assert.ErrorIs(t, err, plain)
	assert.NotErrorIs(t, err, repository.ErrConflict)

	assert.Same(t, repository.ErrConflict, mapErr(repository.ErrConflict))
}
