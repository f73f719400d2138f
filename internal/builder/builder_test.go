package builder_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"suitebuild/internal/builder"
	"suitebuild/internal/descriptor"
	"suitebuild/internal/graph"
	"suitebuild/internal/target"
	"suitebuild/internal/testutil"
	"suitebuild/internal/urlrewrite"
)

// touchCompiler is a stand-in compiler service: $1/$2 are the --output
// flag and its value, so it just drops a marker file into the output dir.
var touchCompiler = []string{"/bin/sh", "-c", `touch "$2/built.txt"`, "cc"}

func mustNode(t *testing.T, g *graph.Graph, id string) *graph.Node {
	t.Helper()
	node, ok := g.Node(id)
	require.True(t, ok, "node %q not in graph", id)
	return node
}

func hostMatch() target.Match {
	return target.Match{
		Target:    target.Host(),
		Toolchain: target.ToolchainDef{Kind: "host", Compiler: "host", Target: target.Host()},
	}
}

// buildFixture loads one suite and returns its graph plus a runner wired
// with the fake compiler and host matches for every project.
func buildFixture(t *testing.T, ctx context.Context, body string) (*graph.Graph, *builder.Runner, string) {
	t.Helper()
	parent := t.TempDir()
	root := testutil.WriteSuite(t, parent, "app", testutil.SuiteHCL("app", "1.0.0", body))

	g := testutil.BuildGraph(t, ctx, root)
	r := &builder.Runner{
		Workspace: builder.NewWorkspace(filepath.Join(root, "build")),
		Compiler:  &builder.CompilerService{Argv: touchCompiler},
		Matches:   make(map[string][]target.Match),
		SuiteRoot: func(name string) (string, bool) {
			if name == "app" {
				return root, true
			}
			return "", false
		},
	}
	for _, n := range g.Nodes() {
		if n.Def.DefKind() == descriptor.KindProject {
			r.Matches[n.ID()] = []target.Match{hostMatch()}
		}
	}
	return g, r, root
}

func TestBuildProjectInvokesCompilerPerTarget(t *testing.T) {
	ctx, _ := testutil.Context(t)
	g, r, root := buildFixture(t, ctx, `
project "core" {
  source_dirs = ["src"]
}
`)
	testutil.WriteFile(t, root, "src/main.c", "int main(void) { return 0; }")
	r.Matches["app:core"] = []target.Match{
		hostMatch(),
		{Target: target.Target{OS: "linux", Arch: "aarch64", Libc: "glibc"},
			Toolchain: target.ToolchainDef{Compiler: "zig"}},
	}

	node := mustNode(t, g, "app:core")
	require.NoError(t, r.Build(ctx, node))

	for _, m := range r.Matches["app:core"] {
		sub := filepath.FromSlash(m.Target.Subdir())
		require.FileExists(t, filepath.Join(root, "build", sub, "app_core", "built.txt"))
	}
	out, ok := r.Workspace.Output("app:core")
	require.True(t, ok)
	require.DirExists(t, out)
}

func TestBuildProjectWithoutMatchedTargetsIsNoOp(t *testing.T) {
	ctx, log := testutil.Context(t)
	g, r, root := buildFixture(t, ctx, `
project "core" {
  source_dirs = ["src"]
}
`)
	testutil.WriteFile(t, root, "src/main.c", "int main(void) { return 0; }")
	r.Matches["app:core"] = nil

	node := mustNode(t, g, "app:core")
	require.NoError(t, r.Build(ctx, node))
	require.Contains(t, log.String(), "nothing to compile")

	_, ok := r.Workspace.Output("app:core")
	require.False(t, ok)
	require.True(t, r.OutputsExist(node))
}

func TestCompilerFailureCarriesDiagnostics(t *testing.T) {
	ctx, _ := testutil.Context(t)
	g, r, root := buildFixture(t, ctx, `
project "core" {
  source_dirs = ["src"]
}
`)
	testutil.WriteFile(t, root, "src/main.c", "int main(void) { return 0; }")
	r.Compiler = &builder.CompilerService{Argv: []string{"/bin/sh", "-c", `echo "main.c:1: error: boom" >&2; exit 1`, "cc"}}

	err := r.Build(ctx, mustNode(t, g, "app:core"))
	var cerr *builder.CompileError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, "app:core", cerr.Unit)
	require.Contains(t, cerr.Output, "main.c:1: error: boom")
}

func TestCompilerTimeout(t *testing.T) {
	ctx, _ := testutil.Context(t)
	g, r, root := buildFixture(t, ctx, `
project "core" {
  source_dirs = ["src"]
}
`)
	testutil.WriteFile(t, root, "src/main.c", "int main(void) { return 0; }")
	r.Compiler = &builder.CompilerService{
		Argv:    []string{"/bin/sh", "-c", "sleep 10", "cc"},
		Timeout: 50 * time.Millisecond,
	}

	err := r.Build(ctx, mustNode(t, g, "app:core"))
	require.Error(t, err)
}

func TestFetchLibraryFallsBackAcrossURLs(t *testing.T) {
	ctx, _ := testutil.Context(t)
	payload := []byte("native archive bytes")
	sum := sha256.Sum256(payload)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		hits.Add(1)
		if req.URL.Path == "/dead/lib.tar.gz" {
			http.NotFound(w, req)
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	g, r, root := buildFixture(t, ctx, `
library "ZLIB" {
  urls   = ["`+srv.URL+`/dead/lib.tar.gz", "`+srv.URL+`/live/lib.tar.gz"]
  sha256 = "`+hex.EncodeToString(sum[:])+`"
}
`)
	node := mustNode(t, g, "app:ZLIB")
	require.NoError(t, r.Build(ctx, node))

	data, err := os.ReadFile(filepath.Join(root, "libs", "lib.tar.gz"))
	require.NoError(t, err)
	require.Equal(t, payload, data)
	require.Equal(t, int32(2), hits.Load())

	// Already-verified artifacts are not fetched again.
	require.NoError(t, r.Build(ctx, node))
	require.Equal(t, int32(2), hits.Load())
}

func TestFetchLibraryChecksumMismatch(t *testing.T) {
	ctx, _ := testutil.Context(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("tampered"))
	}))
	defer srv.Close()

	g, r, _ := buildFixture(t, ctx, `
library "ZLIB" {
  urls   = ["`+srv.URL+`/lib.tar.gz"]
  sha256 = "`+hex.EncodeToString(make([]byte, 32))+`"
}
`)
	err := r.Build(ctx, mustNode(t, g, "app:ZLIB"))
	var mismatch *builder.ChecksumError
	require.ErrorAs(t, err, &mismatch)
}

func TestFetchLibraryHonorsURLRewrites(t *testing.T) {
	ctx, _ := testutil.Context(t)
	payload := []byte("mirrored bytes")
	sum := sha256.Sum256(payload)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, "/mirror/lib.tar.gz", req.URL.Path)
		w.Write(payload)
	}))
	defer srv.Close()

	rules, err := urlrewrite.New([]*descriptor.URLRewriteDecl{{
		Pattern:     `https://upstream\.example/(.*)`,
		Replacement: srv.URL + "/mirror/$1",
	}})
	require.NoError(t, err)

	g, r, _ := buildFixture(t, ctx, `
library "ZLIB" {
  urls   = ["https://upstream.example/lib.tar.gz"]
  sha256 = "`+hex.EncodeToString(sum[:])+`"
}
`)
	r.Rewrites = rules
	require.NoError(t, r.Build(ctx, mustNode(t, g, "app:ZLIB")))
}

func TestBuildAggregateDistribution(t *testing.T) {
	ctx, _ := testutil.Context(t)
	g, r, root := buildFixture(t, ctx, `
project "core" {
  source_dirs = ["src"]
}

distribution "BUNDLE" {
  deps   = ["core"]
  output = "bundle"
}
`)
	testutil.WriteFile(t, root, "src/main.c", "int main(void) { return 0; }")

	require.NoError(t, r.Build(ctx, mustNode(t, g, "app:core")))
	require.NoError(t, r.Build(ctx, mustNode(t, g, "app:BUNDLE")))

	require.FileExists(t, filepath.Join(root, "build", "dists", "bundle.tar.gz"))
}

func TestBuildLayoutDistributionWithDeferredIssue(t *testing.T) {
	ctx, _ := testutil.Context(t)
	g, r, _ := buildFixture(t, ctx, `
distribution "BROKEN" {
  output = "broken"
  layout "bin/" {
    sources = ["dependency:missing"]
  }
}

project "fine" {
  source_dirs = ["src"]
}
`)
	err := r.Build(ctx, mustNode(t, g, "app:BROKEN"))
	var unresolved *graph.UnresolvedLayoutDependencyError
	require.ErrorAs(t, err, &unresolved)
	require.Equal(t, "app:missing", unresolved.Reference)
}
