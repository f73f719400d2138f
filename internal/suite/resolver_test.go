package suite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"suitebuild/internal/descriptor"
)

// writeCheckout materializes a suite checkout under parent/<name>.
func writeCheckout(t *testing.T, parent, name, content string) string {
	t.Helper()
	dir := filepath.Join(parent, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, descriptor.FileName), []byte(content), 0o644))
	return dir
}

func suiteHCL(name, version, extra string) string {
	return fmt.Sprintf("suite {\n  name    = %q\n  version = %q\n}\n%s", name, version, extra)
}

// fakeFetcher records clone requests and optionally materializes checkouts.
type fakeFetcher struct {
	mu       sync.Mutex
	calls    []string // "url -> dest"
	err      error
	contents map[string]string // url -> suite.hcl content written on success
}

func (f *fakeFetcher) Clone(_ context.Context, url, dest, rev string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url+" -> "+dest)
	if f.err != nil {
		return f.err
	}
	content, ok := f.contents[url]
	if !ok {
		return fmt.Errorf("no checkout available at %s", url)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dest, descriptor.FileName), []byte(content), 0o644)
}

func newResolver(f Fetcher) *Resolver {
	return &Resolver{Store: descriptor.NewStore(), Fetcher: f}
}

func TestResolve_ClosureInBreadthFirstOrder(t *testing.T) {
	parent := t.TempDir()
	primary := writeCheckout(t, parent, "app", suiteHCL("app", "1.0.0", `
import "tools" { version = "1.0.0" }
import "sdk" { version = "1.0.0" }
`))
	writeCheckout(t, parent, "tools", suiteHCL("tools", "1.0.0", `
import "core" { version = "1.0.0" }
`))
	writeCheckout(t, parent, "sdk", suiteHCL("sdk", "1.0.0", ""))
	writeCheckout(t, parent, "core", suiteHCL("core", "1.0.0", ""))

	res, err := newResolver(&fakeFetcher{}).Resolve(context.Background(), primary, nil)
	require.NoError(t, err)

	var names []string
	for _, s := range res.Suites() {
		names = append(names, s.Name)
	}
	require.Equal(t, []string{"app", "tools", "sdk", "core"}, names)
	require.Equal(t, "app", res.Primary().Name)
}

func TestResolve_CompatiblePinsKeepFirstResolved(t *testing.T) {
	parent := t.TempDir()
	// Both importers want "common": pins 1.2.0 and 1.2.5 against an
	// available 1.2.3. Compatible, and the first-resolved instance stays.
	primary := writeCheckout(t, parent, "app", suiteHCL("app", "1.0.0", `
import "left" { version = "1.0.0" }
import "right" { version = "1.0.0" }
`))
	writeCheckout(t, parent, "left", suiteHCL("left", "1.0.0", `
import "common" { version = "1.2.0" }
`))
	writeCheckout(t, parent, "right", suiteHCL("right", "1.0.0", `
import "common" { version = "1.2.5" }
`))
	writeCheckout(t, parent, "common", suiteHCL("common", "1.2.3", ""))

	res, err := newResolver(&fakeFetcher{}).Resolve(context.Background(), primary, nil)
	require.NoError(t, err)

	common, ok := res.Lookup("common")
	require.True(t, ok)
	require.Equal(t, Version{1, 2, 3}, common.EffectiveVersion)
}

func TestResolve_IncompatibleMajorPinFails(t *testing.T) {
	parent := t.TempDir()
	primary := writeCheckout(t, parent, "app", suiteHCL("app", "1.0.0", `
import "left" { version = "1.0.0" }
import "right" { version = "1.0.0" }
`))
	writeCheckout(t, parent, "left", suiteHCL("left", "1.0.0", `
import "common" { version = "2.0.0" }
`))
	writeCheckout(t, parent, "right", suiteHCL("right", "1.0.0", `
import "common" { version = "1.2.5" }
`))
	writeCheckout(t, parent, "common", suiteHCL("common", "2.0.0", ""))

	_, err := newResolver(&fakeFetcher{}).Resolve(context.Background(), primary, nil)
	var conflict *VersionConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "common", conflict.Suite)
	// Both implicated importers are named.
	require.Equal(t, "left", conflict.FirstImporter)
	require.Equal(t, "right", conflict.SecondImporter)
}

func TestResolve_MissingNonDynamicImport(t *testing.T) {
	parent := t.TempDir()
	primary := writeCheckout(t, parent, "app", suiteHCL("app", "1.0.0", `
import "ghost" { version = "1.0.0" }
`))

	_, err := newResolver(&fakeFetcher{}).Resolve(context.Background(), primary, nil)
	var unresolved *UnresolvedImportError
	require.ErrorAs(t, err, &unresolved)
	require.Equal(t, "ghost", unresolved.Import)
	require.Equal(t, "app", unresolved.Importer)
}

func TestResolve_InactiveDynamicImportSkipped(t *testing.T) {
	parent := t.TempDir()
	primary := writeCheckout(t, parent, "app", suiteHCL("app", "1.0.0", `
import "probe" {
  version = "1.0.0"
  dynamic = true
  url {
    source = "https://example.org/probe.git"
    kind   = "git"
  }
}
`))

	fetcher := &fakeFetcher{}
	res, err := newResolver(fetcher).Resolve(context.Background(), primary, nil)
	require.NoError(t, err)
	_, ok := res.Lookup("probe")
	require.False(t, ok)
	require.Empty(t, fetcher.calls)
}

func TestResolve_ActivatedDynamicImportFetched(t *testing.T) {
	parent := t.TempDir()
	primary := writeCheckout(t, parent, "app", suiteHCL("app", "1.0.0", `
import "probe" {
  version = "1.1.0"
  dynamic = true
  url {
    source = "https://example.org/probe.git"
    kind   = "git"
  }
}
urlrewrite "https://example\\.org/(.*)" {
  replacement = "https://mirror.internal/$1"
}
`))

	fetcher := &fakeFetcher{contents: map[string]string{
		"https://mirror.internal/probe.git": suiteHCL("probe", "1.1.0", ""),
	}}
	res, err := newResolver(fetcher).Resolve(context.Background(), primary, []string{"probe"})
	require.NoError(t, err)

	probe, ok := res.Lookup("probe")
	require.True(t, ok)
	require.Equal(t, Version{1, 1, 0}, probe.EffectiveVersion)
	// The primary suite's rewrite rules were applied before fetching.
	require.Len(t, fetcher.calls, 1)
	require.Contains(t, fetcher.calls[0], "https://mirror.internal/probe.git")
}

func TestResolve_AllURLsFailing(t *testing.T) {
	parent := t.TempDir()
	primary := writeCheckout(t, parent, "app", suiteHCL("app", "1.0.0", `
import "probe" {
  version = "1.0.0"
  dynamic = true
  url {
    source = "https://a.example/probe.git"
    kind   = "git"
  }
  url {
    source = "https://b.example/probe.git"
    kind   = "git"
  }
}
`))

	fetcher := &fakeFetcher{err: errors.New("connection refused")}
	_, err := newResolver(fetcher).Resolve(context.Background(), primary, []string{"probe"})
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, "probe", fetchErr.Suite)
	// Every candidate URL was attempted before surfacing the failure.
	require.Len(t, fetcher.calls, 2)
}

func TestResolve_SubdirImport(t *testing.T) {
	parent := t.TempDir()
	primary := writeCheckout(t, parent, "app", suiteHCL("app", "1.0.0", `
import "nested" {
  version = "1.0.0"
  subdir  = true
}
`))
	// The nested suite lives inside the importer's own checkout.
	writeCheckout(t, primary, "nested", suiteHCL("nested", "1.0.0", ""))

	res, err := newResolver(&fakeFetcher{}).Resolve(context.Background(), primary, nil)
	require.NoError(t, err)
	nested, ok := res.Lookup("nested")
	require.True(t, ok)
	require.Equal(t, filepath.Join(primary, "nested"), nested.Root)
}

func TestVersionSatisfies(t *testing.T) {
	v123 := Version{1, 2, 3}
	require.True(t, v123.Satisfies(Version{1, 2, 0}))
	require.True(t, v123.Satisfies(Version{1, 1, 9}))
	require.True(t, v123.Satisfies(Version{1, 2, 5})) // patch is ignored
	require.False(t, v123.Satisfies(Version{1, 3, 0}))
	require.False(t, v123.Satisfies(Version{2, 2, 0}))
}
