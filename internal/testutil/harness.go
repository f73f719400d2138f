// Package testutil provides the shared scaffolding for tests that need real
// suite checkouts on disk: descriptor fixtures, resolution helpers and a
// thread-safe log capture buffer.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"suitebuild/internal/ctxlog"
	"suitebuild/internal/descriptor"
	"suitebuild/internal/graph"
	"suitebuild/internal/suite"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

// Write implements io.Writer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements fmt.Stringer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// Context returns a context carrying a debug-level logger that writes into
// the returned buffer.
func Context(t *testing.T) (context.Context, *SafeBuffer) {
	t.Helper()
	buf := &SafeBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return ctxlog.WithLogger(context.Background(), logger), buf
}

// SuiteHCL renders a minimal suite.hcl with the given name, version and
// extra body.
func SuiteHCL(name, version, body string) string {
	return fmt.Sprintf("suite {\n  name    = %q\n  version = %q\n}\n%s", name, version, body)
}

// WriteSuite materializes a suite checkout under parent/<name> and returns
// its root directory.
func WriteSuite(t *testing.T, parent, name, content string) string {
	t.Helper()
	dir := filepath.Join(parent, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, descriptor.FileName), []byte(content), 0o644))
	return dir
}

// WriteFile writes a file (creating parents) below a suite root, for layout
// fixtures.
func WriteFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// Resolve runs a full suite resolution rooted at primaryDir.
func Resolve(t *testing.T, ctx context.Context, primaryDir string, dynamic ...string) *suite.Resolution {
	t.Helper()
	resolver := &suite.Resolver{Store: descriptor.NewStore(), Fetcher: suite.NewGitFetcher()}
	res, err := resolver.Resolve(ctx, primaryDir, dynamic)
	require.NoError(t, err)
	return res
}

// BuildGraph resolves primaryDir and merges the closure into a graph.
func BuildGraph(t *testing.T, ctx context.Context, primaryDir string, dynamic ...string) *graph.Graph {
	t.Helper()
	res := Resolve(t, ctx, primaryDir, dynamic...)
	g, err := graph.Build(ctx, res.Suites())
	require.NoError(t, err)
	return g
}
