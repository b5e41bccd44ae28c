package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/config"
	"github.com/roach88/strata/internal/eventbus"
	"github.com/roach88/strata/internal/graph"
	"github.com/roach88/strata/internal/ident"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/store"
	"github.com/roach88/strata/internal/testutil"
	"github.com/roach88/strata/internal/versioning"
)

const testSchema = `entity: repo: fields: {
	name:  {type: "string", required: true, minLength: 1}
	stars: {type: "integer", min: 0}
}
entity: user: fields: name: {type: "string", required: true}
relation: OWNS: fields: since: {type: "integer"}
`

// writeFile creates dir/name with content and returns its path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// seedDatabase records a small session into a new database:
//
//	v-1: u1 (user), p1 and p2 (repo)
//	v-2: + r1 OWNS u1->p1, u1 renamed "Ada L"
//	feature: branch from v-1 (id v-3)
func seedDatabase(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "strata.db")

	st, err := store.Open(path, store.WithLogger(testutil.DiscardLogger()))
	require.NoError(t, err)

	bus := eventbus.New(
		eventbus.WithIDGenerator(ident.NewSequence("ev")),
		eventbus.WithNow(testutil.NewDeterministicClock().Now),
		eventbus.WithLogger(testutil.DiscardLogger()),
	)
	g := graph.New(nil, bus, graph.WithLogger(testutil.DiscardLogger()))
	versions := versioning.New(g, bus,
		versioning.WithIDGenerator(ident.NewSequence("v")),
		versioning.WithNow(testutil.NewDeterministicClock().Now),
		versioning.WithLogger(testutil.DiscardLogger()),
	)
	rec := store.NewRecorder(ctx, st, bus)
	arc := store.NewArchive(ctx, st, versions, bus)

	_, err = g.AddEntity(map[string]any{"id": "u1", "type": "user", "name": "Ada"})
	require.NoError(t, err)
	_, err = g.AddEntity(map[string]any{"id": "p1", "type": "repo", "name": "strata", "stars": 42})
	require.NoError(t, err)
	_, err = g.AddEntity(map[string]any{"id": "p2", "type": "repo", "name": "tiny", "stars": 3})
	require.NoError(t, err)
	_, err = versions.CreateVersion(ir.VersionMetadata{Author: "ada", Message: "initial import"})
	require.NoError(t, err)

	_, err = g.AddRelation(map[string]any{"id": "r1", "type": "OWNS", "from": "u1", "to": "p1", "since": 2020})
	require.NoError(t, err)
	_, err = g.UpdateEntity("u1", map[string]any{"name": "Ada L"})
	require.NoError(t, err)
	_, err = versions.CreateVersion(ir.VersionMetadata{Message: "ownership", Tags: []string{"release"}})
	require.NoError(t, err)
	_, err = versions.CreateBranch("feature", "v-1")
	require.NoError(t, err)

	require.NoError(t, rec.Err())
	require.NoError(t, arc.Err())
	rec.Close()
	arc.Close()
	versions.Close()
	require.NoError(t, st.Close())
	return path
}

// testRootOptions returns options as the root command would after loading
// an absent config file.
func testRootOptions(format string) *RootOptions {
	return &RootOptions{Format: format, Settings: config.Default()}
}

// execute runs cmd with args and returns stdout and the command error.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
