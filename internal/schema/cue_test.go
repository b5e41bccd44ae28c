package schema

import (
	"os"
	"path/filepath"
	"testing"

	"cuelang.org/go/cue/cuecontext"
	"github.com/roach88/strata/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const repoCUE = `
entity: repo: fields: {
	name:  {type: "string", required: true, minLength: 1, maxLength: 40}
	stars: {type: "integer", min: 0}
	slug:  {pattern: "^[a-z-]+$"}
}
entity: user: {}
relation: OWNS: fields: since: {type: "integer", required: true}
`

func TestCompileCUE(t *testing.T) {
	v := cuecontext.New().CompileString(repoCUE)
	require.NoError(t, v.Err())

	defs, err := CompileCUE(v)
	require.NoError(t, err)
	require.Len(t, defs, 3)

	repo := defs[0]
	assert.Equal(t, "repo", repo.Name)
	assert.Equal(t, ir.KindEntity, repo.Kind)
	require.Len(t, repo.Fields, 3)
	assert.True(t, repo.Fields[0].Required)
	assert.Equal(t, []Constraint{TypeOf{Type: TypeString}, LengthBetween(1, 40)}, repo.Fields[0].Constraints)
	assert.Equal(t, []Constraint{TypeOf{Type: TypeInteger}, AtLeast(0)}, repo.Fields[1].Constraints)
	require.Len(t, repo.Fields[2].Constraints, 1)
	assert.Equal(t, "^[a-z-]+$", repo.Fields[2].Constraints[0].(Pattern).Expr)

	assert.Equal(t, "user", defs[1].Name)
	assert.Empty(t, defs[1].Fields)
	assert.Equal(t, ir.KindRelation, defs[2].Kind)
}

func TestCompileCUEStringValidates(t *testing.T) {
	s, err := CompileCUEString(repoCUE)
	require.NoError(t, err)

	assert.True(t, s.Valid(ir.KindEntity, ir.Record{"id": "e1", "type": "repo", "name": "x", "stars": int64(1)}))
	assert.False(t, s.Valid(ir.KindEntity, ir.Record{"id": "e1", "type": "repo", "name": "x", "slug": "Nope"}))
	assert.False(t, s.Valid(ir.KindRelation, ir.Record{"id": "r1", "type": "OWNS", "from": "a", "to": "b"}))
}

func TestCompileCUEErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"type not string", `entity: a: fields: x: {type: 5}`, "fields.x.type"},
		{"required not bool", `entity: a: fields: x: {required: "yes"}`, "fields.x.required"},
		{"min not number", `entity: a: fields: x: {min: "low"}`, "fields.x.min"},
		{"bad pattern", `entity: a: fields: x: {pattern: "("}`, "fields.x.pattern"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileCUEString(tt.src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompileCUEDefinitionErrors(t *testing.T) {
	_, err := CompileCUEString(`entity: a: fields: x: {type: "float"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrInvalidFieldType)
}

func TestLoadCUEFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.cue")
	require.NoError(t, os.WriteFile(path, []byte(repoCUE), 0o644))

	s, err := LoadCUEFile(path, WithStrictTypes())
	require.NoError(t, err)
	_, ok := s.Lookup(ir.KindRelation, "OWNS")
	assert.True(t, ok)
	assert.False(t, s.Valid(ir.KindEntity, ir.Record{"id": "e1", "type": "ghost"}))
}

func TestLoadCUEFileSyntaxError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.cue")
	require.NoError(t, os.WriteFile(path, []byte("entity: {"), 0o644))

	_, err := LoadCUEFile(path)
	require.Error(t, err)
	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.True(t, cerr.Pos.IsValid())
}

func TestLoadCUEFileMissing(t *testing.T) {
	_, err := LoadCUEFile(filepath.Join(t.TempDir(), "none.cue"))
	assert.Error(t, err)
}

func TestLoadCUEDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "entities.cue"), []byte("package graph\n\nentity: repo: fields: name: {type: \"string\"}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "relations.cue"), []byte("package graph\n\nrelation: OWNS: {}\n"), 0o644))

	s, err := LoadCUEDir(dir)
	require.NoError(t, err)
	assert.Len(t, s.Types(ir.KindEntity), 1)
	assert.Len(t, s.Types(ir.KindRelation), 1)
}

func TestLoadFileOrDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.cue"), []byte(repoCUE), 0o644))

	fromDir, err := Load(dir)
	require.NoError(t, err)
	_, ok := fromDir.Lookup(ir.KindEntity, "repo")
	assert.True(t, ok)

	fromFile, err := Load(filepath.Join(dir, "schema.cue"))
	require.NoError(t, err)
	assert.Len(t, fromFile.Types(ir.KindEntity), 2)

	_, err = Load(filepath.Join(dir, "missing.cue"))
	assert.Error(t, err)
}
