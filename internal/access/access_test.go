package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recfield/internal/ir"
)

func TestRulesCheck(t *testing.T) {
	rules := Rules{
		{Model: "line", Op: Read, IDs: ir.Ints(2)},
		{Model: "order", Op: Unlink},
		{Model: "tag", Op: Write, User: "guest"},
	}
	ctx := context.Background()

	assert.NoError(t, rules.Check(ctx, "admin", Read, "line", ir.Ints(1, 3)))

	err := rules.Check(ctx, "admin", Read, "line", ir.Ints(1, 2, 3))
	require.Error(t, err)
	assert.True(t, ir.IsAccessError(err))
	assert.Contains(t, err.Error(), "record=2")
	assert.Contains(t, err.Error(), "user=admin")

	assert.Error(t, rules.Check(ctx, "admin", Unlink, "order", ir.Ints(9)))
	assert.NoError(t, rules.Check(ctx, "admin", Write, "order", ir.Ints(9)))

	assert.NoError(t, rules.Check(ctx, "admin", Write, "tag", ir.Ints(1)))
	assert.Error(t, rules.Check(ctx, "guest", Write, "tag", ir.Ints(1)))

	assert.Equal(t, ir.Ints(2), rules.Denied("admin", Read, "line", ir.Ints(1, 2, 3)))
	assert.Equal(t, []string{"line", "order", "tag"}, rules.Models())
}

func TestAllowAll(t *testing.T) {
	assert.NoError(t, AllowAll{}.Check(context.Background(), "", Unlink, "line", ir.Ints(1)))
}

func TestParseOperation(t *testing.T) {
	op, err := ParseOperation("Write")
	require.NoError(t, err)
	assert.Equal(t, Write, op)

	_, err = ParseOperation("publish")
	assert.Error(t, err)
}
