package compiler

import (
	"context"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recfield/internal/field"
	"github.com/roach88/recfield/internal/model"
)

const salesSpec = `
mixin: "mail.thread": fields: {
	state: {type: "selection", selection: [["draft", "Draft"], ["done", "Done"]]}
}

model: partner: {
	rec_name: "name"
	fields: name: {type: "char", size: 16, required: true}
}

model: "sale.order": {
	inherit: ["mail.thread"]
	fields: {
		name:     {type: "char"}
		line_ids: {type: "one2many", comodel: "sale.line", inverse_name: "order_id"}
		tag_ids:  {type: "many2many", comodel: "tag"}
		total:    {type: "float", compute: "sum:line_ids.amount", store: true}
	}
}

model: "sale.line": fields: {
	order_id: {type: "many2one", comodel: "sale.order", ondelete: "cascade"}
	qty:      {type: "float", default: 1}
	price:    {type: "monetary"}
	amount:   {type: "monetary", compute: "compute_amount", depends: ["qty"], store: true}
}

model: tag: fields: {
	name:      {type: "char"}
	order_ids: {type: "many2many", comodel: "sale.order", relation: "sale_order_tag_rel", column1: "tag_id", column2: "sale_order_id"}
}

extend: "sale.order": fields: {
	state: selection_add: [{value: "sent", label: "Sent"}]
}

extend: "sale.line": fields: {
	amount: depends: ["price"]
}
`

func compileString(t *testing.T, src string) cue.Value {
	t.Helper()
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err())
	return v
}

func TestCompileModels(t *testing.T) {
	specs, err := CompileModels(compileString(t, salesSpec))
	require.NoError(t, err)

	var kinds []Kind
	var names []string
	for _, s := range specs {
		kinds = append(kinds, s.Kind)
		names = append(names, s.Decl.Name)
	}
	assert.Equal(t, []Kind{KindMixin, KindModel, KindModel, KindModel, KindModel, KindExtension, KindExtension}, kinds)
	assert.Equal(t, []string{"mail.thread", "partner", "sale.order", "sale.line", "tag", "sale.order", "sale.line"}, names)

	partner := specs[1].Decl
	assert.Equal(t, "name", partner.RecName)
	require.Len(t, partner.Fields, 1)
	assert.Equal(t, field.Char, partner.Fields[0].Type)
	assert.Equal(t, 16, partner.Fields[0].Size)
	require.NotNil(t, partner.Fields[0].Required)
	assert.True(t, *partner.Fields[0].Required)

	order := specs[2].Decl
	assert.Equal(t, []string{"mail.thread"}, order.Inherit)
	var fieldNames []string
	for _, f := range order.Fields {
		fieldNames = append(fieldNames, f.Name)
	}
	assert.Equal(t, []string{"name", "line_ids", "tag_ids", "total"}, fieldNames, "declaration order is kept")
	assert.Equal(t, "order_id", order.Fields[1].InverseName)
	assert.Equal(t, "sum:line_ids.amount", order.Fields[3].Compute)

	mixin := specs[0].Decl
	assert.Equal(t, []field.SelectionItem{{Value: "draft", Label: "Draft"}, {Value: "done", Label: "Done"}}, mixin.Fields[0].Selection)

	ext := specs[5].Decl
	assert.Equal(t, []field.SelectionItem{{Value: "sent", Label: "Sent"}}, ext.Fields[0].SelectionAdd)
	assert.Empty(t, ext.Fields[0].Type)

	line := specs[3].Decl
	assert.Equal(t, field.OnDeleteCascade, line.Fields[0].OnDelete)
	assert.NotNil(t, line.Fields[1].Default)
}

func TestCompileModelErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name:    "unknown model key",
			src:     `model: x: {fields: {a: {type: "char"}}, tabel: "x"}`,
			wantErr: `unknown key "tabel"`,
		},
		{
			name:    "unknown field key",
			src:     `model: x: fields: a: {type: "char", stored: true}`,
			wantErr: `unknown key "stored"`,
		},
		{
			name:    "unknown type",
			src:     `model: x: fields: a: {type: "decimal"}`,
			wantErr: `unknown field type "decimal"`,
		},
		{
			name:    "no fields",
			src:     `model: x: {rec_name: "a"}`,
			wantErr: "declares no fields",
		},
		{
			name:    "bad selection pair",
			src:     `model: x: fields: a: {type: "selection", selection: [["a"]]}`,
			wantErr: "selection pairs must be [value, label]",
		},
		{
			name:    "wrong value kind",
			src:     `model: x: fields: a: {type: "char", size: "large"}`,
			wantErr: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileModels(compileString(t, tt.src))
			require.Error(t, err)
			if tt.wantErr != "" {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestCompileErrorPosition(t *testing.T) {
	v := cuecontext.New().CompileString("model: x: fields: a: {type: \"char\", bogus: 1}", cue.Filename("models.cue"))
	require.NoError(t, v.Err())
	_, err := CompileModels(v)
	require.Error(t, err)

	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "x.a.bogus", cerr.Field)
	assert.True(t, cerr.Pos.IsValid())
	assert.Contains(t, err.Error(), "models.cue:1:")
}

func TestExtensionWithoutFields(t *testing.T) {
	specs, err := CompileModels(compileString(t, `extend: x: {rec_name: "code"}`))
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, KindExtension, specs[0].Kind)
	assert.Equal(t, "code", specs[0].Decl.RecName)
}

func TestRegister(t *testing.T) {
	specs, err := CompileModels(compileString(t, salesSpec))
	require.NoError(t, err)
	require.Empty(t, Validate(specs))

	reg := model.NewRegistry()
	require.NoError(t, Register(reg, specs))
	require.NoError(t, reg.Bind("sale.line", model.Funcs{Computes: map[string]model.ComputeFunc{
		"compute_amount": func(context.Context, model.Recordset) error { return nil },
	}}))
	require.NoError(t, reg.Setup())

	state, ok := reg.Field("sale.order", "state")
	require.True(t, ok)
	assert.Equal(t, []string{"draft", "done", "sent"}, state.SelectionValues())

	amount, ok := reg.Field("sale.line", "amount")
	require.True(t, ok)
	assert.Equal(t, []string{"qty", "price"}, amount.Depends)

	tags, ok := reg.Field("sale.order", "tag_ids")
	require.True(t, ok)
	assert.Equal(t, "sale_order_tag_rel", tags.Relation)
}

func TestRegisterReportsDeclaration(t *testing.T) {
	specs := []ModelSpec{
		{Kind: KindModel, Decl: model.Decl{Name: "x", Fields: []model.FieldDecl{{Name: "a", Decl: field.Decl{Type: field.Char}}}}},
		{Kind: KindModel, Decl: model.Decl{Name: "x", Fields: []model.FieldDecl{{Name: "b", Decl: field.Decl{Type: field.Char}}}}},
	}
	err := Register(model.NewRegistry(), specs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `register model "x"`)
}
