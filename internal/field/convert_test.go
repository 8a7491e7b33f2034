package field

import (
	"context"
	"math"
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recfield/internal/ir"
)

// fakeResolver stands in for a session in conversion tests.
type fakeResolver struct {
	current map[ir.ID]ir.IDs
	labels  map[ir.ID]string
	created []map[string]any
	updated map[ir.ID]map[string]any
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		current: map[ir.ID]ir.IDs{},
		labels:  map[ir.ID]string{},
		updated: map[ir.ID]map[string]any{},
	}
}

func (r *fakeResolver) NewRecord(_ context.Context, _ string, values map[string]any) (ir.ID, error) {
	r.created = append(r.created, values)
	return ir.NewRef(int64(len(r.created))), nil
}

func (r *fakeResolver) UpdateRecord(_ context.Context, _ string, id ir.ID, values map[string]any) error {
	r.updated[id] = values
	return nil
}

func (r *fakeResolver) Current(_ context.Context, _ *Field, owner ir.ID) (any, error) {
	return r.current[owner], nil
}

func (r *fakeResolver) DisplayName(_ context.Context, _ string, id ir.ID) (string, error) {
	return r.labels[id], nil
}

func (r *fakeResolver) Snapshot(_ context.Context, _ string, id ir.ID) (map[string]any, error) {
	return map[string]any{"name": "line " + id.String()}, nil
}

func mustField(t *testing.T, decl Decl) *Field {
	t.Helper()
	f, err := Merge("m", "f", decl)
	require.NoError(t, err)
	return f
}

func TestRoundTripScalars(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		decl  Decl
		write any
	}{
		{"boolean", Decl{Type: Boolean}, true},
		{"integer", Decl{Type: Integer}, int64(42)},
		{"float", Decl{Type: Float, Digits: 2}, 3.25},
		{"monetary", Decl{Type: Monetary}, "12.50"},
		{"char", Decl{Type: Char, Size: 8}, "widget"},
		{"text", Decl{Type: Text}, "line one\nline two"},
		{"html", Decl{Type: HTML}, "<p>Hello <b>world</b></p>"},
		{"date", Decl{Type: Date}, "2024-02-29"},
		{"datetime", Decl{Type: Datetime}, "2024-02-29 13:45:00"},
		{"empty date", Decl{Type: Date}, nil},
		{"binary", Decl{Type: Binary}, "aGVsbG8="},
		{"selection", Decl{Type: Selection, Selection: []SelectionItem{{"draft", "Draft"}}}, "draft"},
		{"reference id", Decl{Type: Many2oneReference, ModelField: "res_model"}, int64(9)},
		{"id", Decl{Type: ID}, ir.NewID(3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := mustField(t, tt.decl)
			cached, err := f.ConvertToCache(ctx, ir.NewID(1), tt.write, nil)
			require.NoError(t, err)
			back, err := f.ConvertToWrite(ctx, cached, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.write, back)

			again, err := f.ConvertToCache(ctx, ir.NewID(1), back, nil)
			require.NoError(t, err)
			assert.True(t, f.Equal(cached, again))
		})
	}
}

func TestRoundTripReferences(t *testing.T) {
	ctx := context.Background()
	r := newFakeResolver()

	m2o := mustField(t, Decl{Type: Many2one, Comodel: "parent"})
	cached, err := m2o.ConvertToCache(ctx, ir.NewID(1), ir.NewID(7), r)
	require.NoError(t, err)
	back, err := m2o.ConvertToWrite(ctx, cached, r)
	require.NoError(t, err)
	assert.Equal(t, ir.NewID(7), back)

	m2m := mustField(t, Decl{Type: Many2many, Comodel: "tag"})
	write := []ir.Command{ir.Set(ir.Ints(1, 2, 3)...)}
	cached, err = m2m.ConvertToCache(ctx, ir.NewID(1), write, r)
	require.NoError(t, err)
	assert.Equal(t, ir.Ints(1, 2, 3), cached)
	back, err = m2m.ConvertToWrite(ctx, cached, r)
	require.NoError(t, err)
	assert.Equal(t, write, back)
}

func TestMany2oneConversions(t *testing.T) {
	ctx := context.Background()
	r := newFakeResolver()
	r.labels[ir.NewID(7)] = "Parent 7"
	f := mustField(t, Decl{Type: Many2one, Comodel: "parent"})

	tests := []struct {
		name  string
		input any
		want  ir.ID
	}{
		{"nil", nil, ir.ID{}},
		{"false", false, ir.ID{}},
		{"int", 7, ir.NewID(7)},
		{"yaml float", 7.0, ir.NewID(7)},
		{"pair", ir.Pair{ID: ir.NewID(7), Label: "x"}, ir.NewID(7)},
		{"recordset", ir.IDs{ir.NewID(7)}, ir.NewID(7)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := tt.input
			if ids, ok := input.(ir.IDs); ok {
				input = idsRecordset(ids)
			}
			got, err := f.ConvertToCache(ctx, ir.NewID(1), input, r)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	created, err := f.ConvertToCache(ctx, ir.NewRef(1), map[string]any{"name": "new parent"}, r)
	require.NoError(t, err)
	assert.False(t, created.(ir.ID).Persisted())
	assert.Len(t, r.created, 1)

	read, err := f.ConvertToRead(ctx, ir.NewID(7), r)
	require.NoError(t, err)
	assert.Equal(t, ir.Pair{ID: ir.NewID(7), Label: "Parent 7"}, read)

	read, err = f.ConvertToRead(ctx, ir.ID{}, r)
	require.NoError(t, err)
	assert.Nil(t, read)

	_, err = f.ConvertToCache(ctx, ir.NewID(1), idsRecordset(ir.Ints(1, 2)), r)
	assert.True(t, ir.IsValueError(err))

	_, err = f.ConvertToColumn(ir.NewRef(4))
	assert.True(t, ir.IsValueError(err))
}

type idsRecordset ir.IDs

func (s idsRecordset) IDs() ir.IDs { return ir.IDs(s) }

func TestDelegateParentIsAlignedOnTransientOwner(t *testing.T) {
	f := mustField(t, Decl{Type: Many2one, Comodel: "partner", Delegate: Bool(true)})
	got, err := f.ConvertToCache(context.Background(), ir.NewRef(1), ir.NewID(5), nil)
	require.NoError(t, err)
	assert.Equal(t, ir.Aligned(5), got)
}

func TestCollectionCommands(t *testing.T) {
	ctx := context.Background()
	r := newFakeResolver()
	owner := ir.NewID(1)
	r.current[owner] = ir.Ints(10, 11)
	f := mustField(t, Decl{Type: One2many, Comodel: "line", InverseName: "order_id"})

	got, err := f.ConvertToCache(ctx, owner, []ir.Command{
		ir.Unlink(ir.NewID(10)),
		ir.Link(ir.NewID(12)),
		ir.Update(ir.NewID(11), map[string]any{"qty": 2}),
		ir.Create(map[string]any{"qty": 1}),
	}, r)
	require.NoError(t, err)
	assert.Equal(t, ir.IDs{ir.NewID(11), ir.NewID(12), ir.NewRef(1)}, got)
	assert.Equal(t, map[string]any{"qty": 2}, r.updated[ir.NewID(11)])

	cleared, err := f.ConvertToCache(ctx, owner, ir.Clear(), r)
	require.NoError(t, err)
	assert.Equal(t, ir.IDs{}, cleared)

	write, err := f.ConvertToWrite(ctx, got, r)
	require.NoError(t, err)
	assert.Equal(t, []ir.Command{
		ir.Set(ir.Ints(11, 12)...),
		ir.Create(map[string]any{"name": "line new:1"}),
	}, write)
}

func TestCollectionAlignsTargetsOfTransientOwner(t *testing.T) {
	f := mustField(t, Decl{Type: Many2many, Comodel: "tag"})
	got, err := f.ConvertToCache(context.Background(), ir.NewRef(3), []any{1, 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, ir.IDs{ir.Aligned(1), ir.Aligned(2)}, got)
}

func TestCollectionEquality(t *testing.T) {
	o2m := mustField(t, Decl{Type: One2many, Comodel: "line", InverseName: "order_id"})
	m2m := mustField(t, Decl{Type: Many2many, Comodel: "tag"})

	assert.False(t, o2m.Equal(ir.Ints(1, 2), ir.Ints(2, 1)))
	assert.True(t, m2m.Equal(ir.Ints(1, 2), ir.Ints(2, 1)))
	assert.False(t, m2m.Equal(ir.Ints(1, 2), ir.Ints(1, 2, 3)))
}

func TestColumnEncodings(t *testing.T) {
	money := mustField(t, Decl{Type: Monetary})
	cached, err := money.ConvertToCache(context.Background(), ir.ID{}, "12.345", nil)
	require.NoError(t, err)
	col, err := money.ConvertToColumn(cached)
	require.NoError(t, err)
	assert.Equal(t, "12.35", col)

	back, err := money.ConvertFromColumn(col)
	require.NoError(t, err)
	assert.Zero(t, back.(*apd.Decimal).Cmp(apd.New(1235, -2)))

	amount := mustField(t, Decl{Type: Float, Digits: 2})
	col, err = amount.ConvertToColumn(1.005)
	require.NoError(t, err)
	assert.Equal(t, 1.01, col)

	name := mustField(t, Decl{Type: Char, Size: 3})
	col, err = name.ConvertToColumn("héllo")
	require.NoError(t, err)
	assert.Equal(t, "hél", col)

	col, err = name.ConvertToColumn("")
	require.NoError(t, err)
	assert.Nil(t, col)

	blob := mustField(t, Decl{Type: Binary})
	col, err = blob.ConvertToColumn("aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), col)
	cachedBlob, err := blob.ConvertFromColumn(col)
	require.NoError(t, err)
	assert.Equal(t, "aGVsbG8=", cachedBlob)

	_, err = blob.ConvertToColumn("not base64!")
	assert.True(t, ir.IsValueError(err))

	flag := mustField(t, Decl{Type: Boolean})
	col, err = flag.ConvertToColumn(true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), col)
	fromCol, err := flag.ConvertFromColumn(int64(0))
	require.NoError(t, err)
	assert.Equal(t, false, fromCol)
}

func TestValueErrors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		decl  Decl
		value any
	}{
		{"integer from string", Decl{Type: Integer}, "abc"},
		{"integer from fraction", Decl{Type: Integer}, 1.5},
		{"bad date", Decl{Type: Date}, "29/02/2024"},
		{"bad decimal", Decl{Type: Monetary}, "twelve"},
		{"unknown selection", Decl{Type: Selection, Selection: []SelectionItem{{"a", "A"}}}, "b"},
		{"char from number", Decl{Type: Char}, 12},
		{"collection from string", Decl{Type: Many2many, Comodel: "tag"}, "1,2"},
		{"binary not base64", Decl{Type: Binary}, "not base64!"},
		{"integer out of range", Decl{Type: Integer}, 1e19},
		{"integer at 2^63", Decl{Type: Integer}, float64(math.MaxInt64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := mustField(t, tt.decl)
			_, err := f.ConvertToCache(ctx, ir.NewID(1), tt.value, nil)
			require.Error(t, err)
			assert.True(t, ir.IsValueError(err), "got %v", err)
			assert.Contains(t, err.Error(), "m.f")
		})
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`<p onclick="steal()">Hi</p><script>alert(1)</script>`, `<p>Hi</p>`},
		{`<a href="javascript:alert(1)" title="t">x</a>`, `<a title="t">x</a>`},
		{`<div><style>p{}</style><i>ok</i></div>`, `<div><i>ok</i></div>`},
		{`plain & simple`, `plain &amp; simple`},
	}
	for _, tt := range tests {
		got, err := Sanitize(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestZeroValues(t *testing.T) {
	assert.Equal(t, false, mustField(t, Decl{Type: Boolean}).Zero())
	assert.Equal(t, int64(0), mustField(t, Decl{Type: Integer}).Zero())
	assert.Equal(t, "", mustField(t, Decl{Type: Char}).Zero())
	assert.Equal(t, ir.ID{}, mustField(t, Decl{Type: Many2one, Comodel: "x"}).Zero())
	assert.Equal(t, ir.IDs{}, mustField(t, Decl{Type: Many2many, Comodel: "x"}).Zero())
}
