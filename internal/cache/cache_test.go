package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recfield/internal/field"
	"github.com/roach88/recfield/internal/ir"
)

func testField(t *testing.T, name string, typ field.Type) *field.Field {
	t.Helper()
	d := field.Decl{Type: typ}
	if typ.Relational() {
		d.Comodel = "tag"
	}
	f, err := field.Merge("line", name, d)
	require.NoError(t, err)
	return f
}

func TestGetSetBatch(t *testing.T) {
	c := New()
	qty := testField(t, "qty", field.Integer)
	ids := ir.Ints(1, 2, 3)

	_, ok := c.Get(qty, ids[0])
	assert.False(t, ok)

	c.Set(qty, ids[0], int64(5), false)
	c.Set(qty, ids[2], int64(7), false)

	v, ok := c.Get(qty, ids[0])
	require.True(t, ok)
	assert.Equal(t, int64(5), v)

	assert.Equal(t, []any{int64(5)}, c.GetBatch(qty, ids), "stops at the first miss")
	assert.Equal(t, ir.Ints(2), c.Missing(qty, ids))
	assert.Equal(t, ir.Ints(1, 3), c.Records(qty))
}

func TestRecordsDifferingFrom(t *testing.T) {
	c := New()
	tags := testField(t, "tag_ids", field.Many2many)
	ids := ir.Ints(1, 2, 3)

	c.Set(tags, ids[0], ir.Ints(4, 5), false)
	c.Set(tags, ids[1], ir.Ints(5, 4), false)
	c.Set(tags, ids[2], ir.Ints(4), false)

	differing := c.RecordsDifferingFrom(tags, append(ids, ir.NewID(9)), ir.Ints(4, 5))
	assert.Equal(t, ir.Ints(3, 9), differing, "many2many equality ignores order, misses differ")
}

func TestInvalidateKeepsDirtyValues(t *testing.T) {
	c := New()
	qty := testField(t, "qty", field.Integer)

	c.Set(qty, ir.NewID(1), int64(1), false)
	c.Set(qty, ir.NewID(2), int64(2), true)
	c.Set(qty, ir.NewID(3), int64(3), false)

	c.Invalidate(qty, ir.Ints(1, 2))
	assert.False(t, c.Contains(qty, ir.NewID(1)))
	assert.True(t, c.Contains(qty, ir.NewID(2)))
	assert.True(t, c.Contains(qty, ir.NewID(3)))

	c.Invalidate(qty, nil)
	assert.Equal(t, ir.Ints(2), c.Records(qty))
	assert.Equal(t, ir.Ints(2), c.Dirty(qty))
	assert.Equal(t, []*field.Field{qty}, c.DirtyFields())

	c.ClearDirty(qty, nil)
	c.InvalidateAll()
	assert.Empty(t, c.Records(qty))
}

func TestRemoveAndClear(t *testing.T) {
	c := New()
	qty := testField(t, "qty", field.Integer)
	name := testField(t, "name", field.Char)

	c.Set(qty, ir.NewID(1), int64(1), true)
	c.Set(name, ir.NewRef(1), "draft", false)

	c.Remove(qty, ir.Ints(1))
	assert.False(t, c.IsDirty(qty, ir.NewID(1)))
	assert.Empty(t, c.Records(qty))
	assert.Equal(t, []*field.Field{name}, c.Fields())

	c.Clear()
	assert.Empty(t, c.Fields())
}
