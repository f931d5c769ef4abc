package errs

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "validation uses bare message",
			err:  Validation("items", "cart is empty"),
			want: "cart is empty",
		},
		{
			name: "not found default message",
			err:  NotFound("order", "ORD-2026-0001"),
			want: `order "ORD-2026-0001" not found`,
		},
		{
			name: "not found custom message survives wrapping",
			err:  errors.Wrap(&NotFoundError{Resource: "discount code", ID: "ABCDE", Message: "gone"}, "validate"),
			want: "gone",
		},
		{
			name: "limit reached",
			err:  &LimitReachedError{Resource: "discount code", ID: "ABCDE"},
			want: `discount code "ABCDE" usage limit reached`,
		},
		{
			name: "persistence hides details",
			err:  Persistence("create order", errors.New("connection reset")),
			want: "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}

func TestPersistence(t *testing.T) {
	require.NoError(t, Persistence("noop", nil))

	cause := errors.New("boom")
	err := Persistence("update order", cause)

	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "update order", pe.Op)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "update order: boom", err.Error())
}
