package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	assert.True(t, errors.Is(ConflictError{Op: "x", Field: "email"}, ErrConflict))
	assert.True(t, errors.Is(NotFoundError{Op: "x"}, ErrNotFound))
	assert.True(t, errors.Is(Invalid("x", "zip", "bad"), ErrInvalidInput))
	assert.Equal(t, map[string]string{"zip": "bad"}, FieldErrors(Invalid("x", "zip", "bad")))

	cause := errors.New("dial tcp: refused")
	ext := External("access.Submit", cause)
	assert.True(t, IsExternal(ext))
	assert.True(t, errors.Is(ext, cause))
	assert.Nil(t, External("x", nil))
}

func TestValidationError_StableMessage(t *testing.T) {
	err := ValidationError{Op: "op", Fields: map[string]string{"b": "two", "a": "one"}}
	assert.Equal(t, "op: invalid_input: a: one; b: two", err.Error())
}

func TestNormalizeAndValidate(t *testing.T) {
	assert.Equal(t, "alice", NormalizeUsername("  Alice "))
	assert.True(t, ValidUsername("a_b-9"))
	assert.False(t, ValidUsername("Alice"))
	assert.False(t, ValidUsername("ab"))

	first, last := SplitName("  Mary Ann   Smith ")
	assert.Equal(t, "Mary", first)
	assert.Equal(t, "Ann Smith", last)

	first, last = SplitName("Cher")
	assert.Equal(t, "Cher", first)
	assert.Empty(t, last)
}

func TestStoreFailure(t *testing.T) {
	assert.NoError(t, StoreFailure("op", nil))

	conflict := ConflictError{Op: "op", Field: "email"}
	assert.Equal(t, error(conflict), StoreFailure("op", conflict))
	assert.ErrorIs(t, StoreFailure("op", context.Canceled), context.Canceled)
	assert.False(t, IsExternal(StoreFailure("op", context.Canceled)))

	driver := errors.New("connection reset")
	got := StoreFailure("access.Approve", driver)
	assert.True(t, IsExternal(got))
	assert.ErrorIs(t, got, driver)
}
