package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMatching(t *testing.T) {
	errFull := New(KindConflict, "room is full")
	wrapped := fmt.Errorf("join b1: %w", errFull)

	assert.ErrorIs(t, wrapped, ErrConflict)
	assert.ErrorIs(t, wrapped, errFull)
	assert.NotErrorIs(t, wrapped, ErrValidation)
	assert.NotErrorIs(t, wrapped, New(KindConflict, "other conflict"))
	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestIntegrity_KeepsCause(t *testing.T) {
	cause := New(KindNotFound, "battle not found")
	err := Integrity(cause)

	assert.ErrorIs(t, err, ErrIntegrity)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindIntegrity, KindOf(err))
	assert.Equal(t, "battle not found", err.Error())
	assert.NoError(t, Integrity(nil))
}
