package env

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/recfield/internal/field"
	"github.com/roach88/recfield/internal/ir"
	"github.com/roach88/recfield/internal/model"
	"github.com/roach88/recfield/internal/store"
	"github.com/roach88/recfield/internal/testutil"
)

var errNegativeQty = errors.New("negative quantity")

func computeAmount(ctx context.Context, rs model.Recordset) error {
	for _, rec := range rs.Records() {
		qty, err := rec.Get(ctx, "qty")
		if err != nil {
			return err
		}
		if model.Float(qty) < 0 {
			return errNegativeQty
		}
		price, err := rec.Get(ctx, "price")
		if err != nil {
			return err
		}
		if err := rec.Assign(ctx, "amount", model.Float(qty)*model.Float(price)); err != nil {
			return err
		}
	}
	return nil
}

func computeLabel(ctx context.Context, rs model.Recordset) error {
	for _, rec := range rs.Records() {
		qty, err := rec.Get(ctx, "qty")
		if err != nil {
			return err
		}
		if err := rec.Assign(ctx, "label", fmt.Sprintf("x%g", model.Float(qty))); err != nil {
			return err
		}
	}
	return nil
}

func computeDescendants(ctx context.Context, rs model.Recordset) error {
	for _, rec := range rs.Records() {
		children, err := rec.Ref(ctx, "child_ids")
		if err != nil {
			return err
		}
		n := int64(children.Len())
		for _, child := range children.Records() {
			v, err := child.Get(ctx, "total_descendants")
			if err != nil {
				return err
			}
			n += model.Int(v)
		}
		if err := rec.Assign(ctx, "total_descendants", n); err != nil {
			return err
		}
	}
	return nil
}

// salesRegistry declares partners, delegating customers, orders with lines
// and tags, and a self-referencing node tree.
func salesRegistry(t *testing.T, counter *testutil.ComputeCounter) *model.Registry {
	t.Helper()
	r := model.NewRegistry()
	require.NoError(t, r.Declare(model.Decl{
		Name: "partner",
		Fields: []model.FieldDecl{
			{Name: "name", Decl: field.Decl{Type: field.Char}},
		},
	}))
	require.NoError(t, r.Declare(model.Decl{
		Name: "customer",
		Fields: []model.FieldDecl{
			{Name: "partner_id", Decl: field.Decl{Type: field.Many2one, Comodel: "partner", Delegate: field.Bool(true)}},
			{Name: "credit", Decl: field.Decl{Type: field.Float}},
		},
	}))
	require.NoError(t, r.Declare(model.Decl{
		Name: "sale.order",
		Fields: []model.FieldDecl{
			{Name: "name", Decl: field.Decl{Type: field.Char}},
			{Name: "customer_id", Decl: field.Decl{Type: field.Many2one, Comodel: "customer"}},
			{Name: "line_ids", Decl: field.Decl{Type: field.One2many, Comodel: "sale.line", InverseName: "order_id"}},
			{Name: "tag_ids", Decl: field.Decl{Type: field.Many2many, Comodel: "tag"}},
			{Name: "total", Decl: field.Decl{Type: field.Float, Compute: "sum:line_ids.amount", Store: field.Bool(true)}},
			{Name: "line_count", Decl: field.Decl{Type: field.Integer, Compute: "count:line_ids"}},
		},
	}))
	require.NoError(t, r.Declare(model.Decl{
		Name: "sale.line",
		Fields: []model.FieldDecl{
			{Name: "order_id", Decl: field.Decl{Type: field.Many2one, Comodel: "sale.order", OnDelete: field.OnDeleteCascade}},
			{Name: "qty", Decl: field.Decl{Type: field.Float}},
			{Name: "price", Decl: field.Decl{Type: field.Float}},
			{Name: "amount", Decl: field.Decl{Type: field.Float, Compute: "compute_amount", Depends: []string{"qty", "price"}, Store: field.Bool(true)}},
			{Name: "label", Decl: field.Decl{Type: field.Char, Compute: "compute_label", Depends: []string{"qty"}}},
		},
		Funcs: model.Funcs{Computes: map[string]model.ComputeFunc{
			"compute_amount": counter.Wrap("amount", computeAmount),
			"compute_label":  counter.Wrap("label", computeLabel),
		}},
	}))
	require.NoError(t, r.Declare(model.Decl{
		Name: "tag",
		Fields: []model.FieldDecl{
			{Name: "name", Decl: field.Decl{Type: field.Char}},
			{Name: "order_ids", Decl: field.Decl{Type: field.Many2many, Comodel: "sale.order",
				Relation: "sale_order_tag_rel", Column1: "tag_id", Column2: "sale_order_id"}},
		},
	}))
	require.NoError(t, r.Declare(model.Decl{
		Name: "node",
		Fields: []model.FieldDecl{
			{Name: "name", Decl: field.Decl{Type: field.Char}},
			{Name: "parent_id", Decl: field.Decl{Type: field.Many2one, Comodel: "node"}},
			{Name: "child_ids", Decl: field.Decl{Type: field.One2many, Comodel: "node", InverseName: "parent_id"}},
			{Name: "total_descendants", Decl: field.Decl{Type: field.Integer, Compute: "compute_descendants",
				Depends: []string{"child_ids.total_descendants"}, Recursive: field.Bool(true)}},
		},
		Funcs: model.Funcs{Computes: map[string]model.ComputeFunc{
			"compute_descendants": counter.Wrap("descendants", computeDescendants),
		}},
	}))
	require.NoError(t, r.Setup())
	return r
}

type fixture struct {
	reg     *model.Registry
	storage *testutil.RecordingStorage
	counter *testutil.ComputeCounter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	counter := testutil.NewComputeCounter()
	reg := salesRegistry(t, counter)
	st, err := store.Open(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.EnsureSchema(context.Background(), reg.Tables()))
	return &fixture{reg: reg, storage: testutil.NewRecordingStorage(st), counter: counter}
}

// session opens a new environment over the shared storage.
func (fx *fixture) session(t *testing.T, id string, opts ...Option) *Env {
	t.Helper()
	e, err := New(fx.reg, fx.storage, append([]Option{WithSessionID(id)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func mustFieldOf(t *testing.T, e *Env, model, name string) *field.Field {
	t.Helper()
	f, ok := e.Registry().Field(model, name)
	require.True(t, ok, "%s.%s", model, name)
	return f
}

func mustGet(t *testing.T, rs *Recordset, name string) any {
	t.Helper()
	v, err := rs.Get(context.Background(), name)
	require.NoError(t, err, name)
	return v
}

func mustCreate(t *testing.T, e *Env, name string, values ...map[string]any) *Recordset {
	t.Helper()
	rs, err := e.Create(context.Background(), name, values...)
	require.NoError(t, err)
	return rs
}

// orderWithLines creates an order holding one line per (qty, price) pair.
func orderWithLines(t *testing.T, e *Env, name string, lines ...[2]float64) *Recordset {
	t.Helper()
	cmds := make([]ir.Command, 0, len(lines))
	for _, l := range lines {
		cmds = append(cmds, ir.Create(map[string]any{"qty": l[0], "price": l[1]}))
	}
	return mustCreate(t, e, "sale.order", map[string]any{"name": name, "line_ids": cmds})
}
