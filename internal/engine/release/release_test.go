package release_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polykit/polykit/internal/adapters/lang"
	"github.com/polykit/polykit/internal/core/domain"
	"github.com/polykit/polykit/internal/core/ports"
	"github.com/polykit/polykit/internal/engine/release"
)

func adapters(l domain.Language) ports.LanguageAdapter { return lang.For(l) }

// fixture builds utils@0.3.0 (rust) <- api@1.2.0 (js), plus a Go package
// depending on utils.
func fixture(t *testing.T) *domain.DependencyGraph {
	t.Helper()
	root := t.TempDir()

	utilsDir := filepath.Join(root, "utils")
	require.NoError(t, os.MkdirAll(utilsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(utilsDir, "Cargo.toml"), []byte(
		"[package]\nname = \"utils\"\nversion = \"0.3.0\"\nedition = \"2021\"\n"), 0o644))

	apiDir := filepath.Join(root, "api")
	require.NoError(t, os.MkdirAll(apiDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(apiDir, "package.json"), []byte(
		"{\n  \"name\": \"api\",\n  \"version\": \"1.2.0\"\n}\n"), 0o644))

	toolDir := filepath.Join(root, "tool")
	require.NoError(t, os.MkdirAll(toolDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(toolDir, "go.mod"), []byte("module example.com/tool\n\ngo 1.25\n"), 0o644))

	packages := []*domain.Package{
		{Name: "utils", Language: domain.LangRust, Dir: utilsDir, Tasks: map[string]domain.Task{}},
		{Name: "api", Language: domain.LangJS, Dir: apiDir, Deps: []string{"utils"}, Tasks: map[string]domain.Task{}},
		{Name: "tool", Language: domain.LangGo, Dir: toolDir, Deps: []string{"utils"}, Tasks: map[string]domain.Task{}},
	}
	graph, err := domain.NewDependencyGraph(packages)
	require.NoError(t, err)
	return graph
}

func TestPlan_MinorBumpPropagatesPatch(t *testing.T) {
	graph := fixture(t)
	planner := release.NewPlanner(graph, adapters)

	plan, err := planner.Plan("utils", release.BumpMinor)
	require.NoError(t, err)
	require.Len(t, plan.Entries, 3)

	// Topological order: the target precedes its dependents.
	assert.Equal(t, "utils", plan.Entries[0].Name)
	assert.Equal(t, `utils: Some("0.3.0") -> 0.4.0 (Minor)`, plan.Entries[0].String())

	byName := map[string]release.Entry{}
	for _, e := range plan.Entries {
		byName[e.Name] = e
	}
	assert.Equal(t, `api: Some("1.2.0") -> 1.2.1 (Patch)`, byName["api"].String())
	assert.Equal(t, `tool: None -> None (Patch)`, byName["tool"].String())
}

func TestPlan_UnknownTarget(t *testing.T) {
	graph := fixture(t)
	planner := release.NewPlanner(graph, adapters)

	_, err := planner.Plan("ghost", release.BumpPatch)
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestPlan_StripsPrerelease(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "lib")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(
		"{\n  \"version\": \"2.0.0-rc.1+build.5\"\n}\n"), 0o644))

	graph, err := domain.NewDependencyGraph([]*domain.Package{
		{Name: "lib", Language: domain.LangJS, Dir: dir, Tasks: map[string]domain.Task{}},
	})
	require.NoError(t, err)

	plan, err := release.NewPlanner(graph, adapters).Plan("lib", release.BumpPatch)
	require.NoError(t, err)
	require.NotNil(t, plan.Entries[0].New)
	assert.Equal(t, "2.0.1", *plan.Entries[0].New)
}

func TestApply_WritesVersions(t *testing.T) {
	graph := fixture(t)
	planner := release.NewPlanner(graph, adapters)

	plan, err := planner.Plan("utils", release.BumpMajor)
	require.NoError(t, err)

	applied, err := planner.Apply(plan)
	require.NoError(t, err)
	// The Go package has no version to write.
	assert.Equal(t, []string{"utils", "api"}, applied)

	utils, _ := graph.Package("utils")
	version, ok, err := lang.For(domain.LangRust).ReadVersion(utils.Dir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1.0.0", version)

	api, _ := graph.Package("api")
	version, ok, err = lang.For(domain.LangJS).ReadVersion(api.Dir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1.2.1", version)
}

func TestParseBump(t *testing.T) {
	for _, valid := range []string{"major", "minor", "patch"} {
		_, ok := release.ParseBump(valid)
		assert.True(t, ok, valid)
	}
	_, ok := release.ParseBump("huge")
	assert.False(t, ok)
}
