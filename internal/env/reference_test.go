package env

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recfield/internal/field"
	"github.com/roach88/recfield/internal/ir"
	"github.com/roach88/recfield/internal/model"
	"github.com/roach88/recfield/internal/store"
	"github.com/roach88/recfield/internal/testutil"
)

// computeSummary leaves notes without a body unassigned.
func computeSummary(ctx context.Context, rs model.Recordset) error {
	for _, rec := range rs.Records() {
		body, err := rec.Get(ctx, "body")
		if err != nil {
			return err
		}
		if body == "" {
			continue
		}
		if err := rec.Assign(ctx, "summary", strings.ToUpper(body.(string))); err != nil {
			return err
		}
	}
	return nil
}

// notesFixture declares notes, carrying an optional binary payload,
// attached to projects or tickets through a polymorphic reference.
func notesFixture(t *testing.T) *fixture {
	t.Helper()
	r := model.NewRegistry()
	for _, owner := range []string{"project", "ticket"} {
		require.NoError(t, r.Declare(model.Decl{
			Name: owner,
			Fields: []model.FieldDecl{
				{Name: "name", Decl: field.Decl{Type: field.Char}},
				{Name: "note_ids", Decl: field.Decl{Type: field.One2many, Comodel: "note", InverseName: "res_id"}},
				{Name: "note_count", Decl: field.Decl{Type: field.Integer, Compute: "count:note_ids"}},
			},
		}))
	}
	require.NoError(t, r.Declare(model.Decl{
		Name: "note",
		Fields: []model.FieldDecl{
			{Name: "body", Decl: field.Decl{Type: field.Char}},
			{Name: "data", Decl: field.Decl{Type: field.Binary}},
			{Name: "res_model", Decl: field.Decl{Type: field.Char}},
			{Name: "res_id", Decl: field.Decl{Type: field.Many2oneReference, ModelField: "res_model"}},
			{Name: "summary", Decl: field.Decl{Type: field.Char, Compute: "compute_summary", Depends: []string{"body"}, Store: field.Bool(true)}},
		},
		Funcs: model.Funcs{Computes: map[string]model.ComputeFunc{"compute_summary": computeSummary}},
	}))
	require.NoError(t, r.Setup())

	st, err := store.Open(filepath.Join(t.TempDir(), "notes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.EnsureSchema(context.Background(), r.Tables()))
	return &fixture{reg: r, storage: testutil.NewRecordingStorage(st), counter: testutil.NewComputeCounter()}
}

func TestReferenceMovesBetweenOwnerTypes(t *testing.T) {
	fx := notesFixture(t)
	e := fx.session(t, "s1")
	ctx := context.Background()

	project := mustCreate(t, e, "project", map[string]any{"name": "P"})
	ticket := mustCreate(t, e, "ticket", map[string]any{"name": "T"})
	// both owners are the first row of their table
	require.Equal(t, project.IDs(), ticket.IDs())

	note := mustCreate(t, e, "note", map[string]any{"body": "n", "res_model": "ticket", "res_id": int64(1)})
	noteID := note.IDs()[0]
	assert.Equal(t, ir.IDs{}, mustGet(t, project, "note_ids"))
	assert.Equal(t, ir.IDs{noteID}, mustGet(t, ticket, "note_ids"))
	assert.Equal(t, int64(0), mustGet(t, project, "note_count"))
	assert.Equal(t, int64(1), mustGet(t, ticket, "note_count"))

	// same id, other model: only the model name changes
	require.NoError(t, note.Write(ctx, map[string]any{"res_id": int64(1), "res_model": "project"}))
	assert.Equal(t, ir.IDs{noteID}, mustGet(t, project, "note_ids"))
	assert.Equal(t, ir.IDs{}, mustGet(t, ticket, "note_ids"))
	assert.Equal(t, int64(1), mustGet(t, project, "note_count"))
	assert.Equal(t, int64(0), mustGet(t, ticket, "note_count"))

	// linking from the ticket moves the note although the id already matches
	require.NoError(t, ticket.Write(ctx, map[string]any{"note_ids": ir.Link(noteID)}))
	assert.Equal(t, "ticket", mustGet(t, note, "res_model"))
	assert.Equal(t, ir.IDs{}, mustGet(t, project, "note_ids"))
	assert.Equal(t, ir.IDs{noteID}, mustGet(t, ticket, "note_ids"))

	require.NoError(t, e.Flush(ctx))
	fresh := fx.session(t, "s2")
	owners, err := fresh.Browse("project", project.IDs()...)
	require.NoError(t, err)
	assert.Equal(t, ir.IDs{}, mustGet(t, owners, "note_ids"))
	owners, err = fresh.Browse("ticket", ticket.IDs()...)
	require.NoError(t, err)
	assert.Equal(t, ir.IDs{noteID}, mustGet(t, owners, "note_ids"))
}

func TestWriteRejectsInvalidBinary(t *testing.T) {
	fx := notesFixture(t)
	e := fx.session(t, "s1")
	ctx := context.Background()

	note := mustCreate(t, e, "note", map[string]any{"body": "n", "data": "aGVsbG8="})
	require.NoError(t, e.Flush(ctx))

	err := note.Write(ctx, map[string]any{"data": "not base64!"})
	require.Error(t, err)
	assert.True(t, ir.IsValueError(err), "got %v", err)
	assert.Contains(t, err.Error(), "note.data")
	assert.Equal(t, "aGVsbG8=", mustGet(t, note, "data"))

	// nothing was left dirty
	require.NoError(t, e.Flush(ctx))
	_, err = e.Create(ctx, "note", map[string]any{"data": "%%%"})
	assert.True(t, ir.IsValueError(err))
}

func TestUnassignedStoredDerivationYieldsZero(t *testing.T) {
	fx := notesFixture(t)
	e := fx.session(t, "s1")
	ctx := context.Background()

	note := mustCreate(t, e, "note", map[string]any{"body": "draft"})
	assert.Equal(t, "DRAFT", mustGet(t, note, "summary"))
	require.NoError(t, e.Flush(ctx))

	require.NoError(t, note.Write(ctx, map[string]any{"body": ""}))
	assert.Equal(t, "", mustGet(t, note, "summary"))

	require.NoError(t, e.Flush(ctx))
	fresh := fx.session(t, "s2")
	again, err := fresh.Browse("note", note.IDs()...)
	require.NoError(t, err)
	assert.Equal(t, "", mustGet(t, again, "summary"))
}
