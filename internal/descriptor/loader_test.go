package descriptor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeSuite(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644)
	require.NoError(t, err)
	return dir
}

func TestLoad_FullDescriptor(t *testing.T) {
	dir := writeSuite(t, `
suite {
  name    = "tools"
  version = "1.4.0"
}

import "sdk" {
  version = "1.2.0"
  url {
    source = "https://example.org/sdk.git"
    kind   = "git"
  }
}

import "probe" {
  version = "0.3.0"
  dynamic = true
  subdir  = true
}

urlrewrite "https://example.org/(.*)" {
  replacement = "https://mirror.internal/$1"
}

project "launcher" {
  source_dirs = ["src"]
  deps        = ["sdk:collections", "JLINE"]
  multitarget {
    os   = ["linux"]
    arch = ["amd64", "aarch64"]
  }
}

library "JLINE" {
  urls   = ["https://repo.example.org/jline-3.2.jar"]
  sha256 = "c0ffee"
}

distribution "TOOLS_DIST" {
  output = "dist/tools"
  layout "lib/" {
    sources  = ["dependency:launcher", "file:libs/*"]
    excludes = ["libs/*.o"]
  }
  layout "README" {
    sources = ["string:Tools distribution\n"]
  }
}
`)

	store := NewStore()
	suite, err := store.Load(context.Background(), dir)
	require.NoError(t, err)

	require.Equal(t, "tools", suite.Name)
	require.Equal(t, "1.4.0", suite.Version)

	require.Len(t, suite.Imports, 2)
	require.Equal(t, "sdk", suite.Imports[0].Name)
	require.False(t, suite.Imports[0].Dynamic)
	require.Equal(t, "git", suite.Imports[0].URLs[0].Kind)
	require.True(t, suite.Imports[1].Dynamic)
	require.True(t, suite.Imports[1].Subdir)

	require.Len(t, suite.URLRewrites, 1)

	require.Len(t, suite.Projects, 1)
	p := suite.Projects[0]
	require.Equal(t, "tools:launcher", p.QualifiedName())
	// Bare references are qualified against the owning suite.
	require.Equal(t, []string{"sdk:collections", "tools:JLINE"}, p.DeclaredDeps())
	require.Len(t, p.Multitarget, 1)
	require.Equal(t, []string{"amd64", "aarch64"}, p.Multitarget[0].Arch)

	require.Len(t, suite.Libraries, 1)
	require.Equal(t, "tools:JLINE", suite.Libraries[0].QualifiedName())
	require.Equal(t, filepath.Join("libs", "jline-3.2.jar"), suite.Libraries[0].Path)

	require.Len(t, suite.Distributions, 1)
	d := suite.Distributions[0]
	require.True(t, d.IsLayout())
	require.Equal(t, "tgz", d.Format)
	require.Len(t, d.Layout, 2)
	require.Equal(t, SourceDependency, d.Layout[0].Sources[0].Kind)
	require.Equal(t, "tools:launcher", d.Layout[0].Sources[0].Value)
	require.Equal(t, SourceString, d.Layout[1].Sources[0].Kind)
}

func TestLoad_DeclarationOrderOfDefs(t *testing.T) {
	dir := writeSuite(t, `
suite {
  name    = "s"
  version = "1.0.0"
}
project "b" { source_dirs = ["src"] }
project "a" { source_dirs = ["src"] }
library "z" {
  urls   = ["https://example.org/z.jar"]
  sha256 = "00"
}
`)
	store := NewStore()
	suite, err := store.Load(context.Background(), dir)
	require.NoError(t, err)

	var names []string
	for _, def := range suite.Defs() {
		names = append(names, def.QualifiedName())
	}
	require.Equal(t, []string{"s:b", "s:a", "s:z"}, names)
}

func TestLoad_UnknownAttributeRejected(t *testing.T) {
	dir := writeSuite(t, `
suite {
  name    = "s"
  version = "1.0.0"
}
project "p" {
  source_dirs = ["src"]
  colour      = "red"
}
`)
	store := NewStore()
	_, err := store.Load(context.Background(), dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "colour")
}

func TestLoad_LayoutAndDepsAreExclusive(t *testing.T) {
	dir := writeSuite(t, `
suite {
  name    = "s"
  version = "1.0.0"
}
project "p" { source_dirs = ["src"] }
distribution "D" {
  deps = ["p"]
  layout "bin/" {
    sources = ["dependency:p"]
  }
}
`)
	store := NewStore()
	_, err := store.Load(context.Background(), dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "mutually exclusive")
}

func TestLoad_BadLayoutSourceKind(t *testing.T) {
	dir := writeSuite(t, `
suite {
  name    = "s"
  version = "1.0.0"
}
distribution "D" {
  layout "bin/" {
    sources = ["zipfile:whatever"]
  }
}
`)
	store := NewStore()
	_, err := store.Load(context.Background(), dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown kind")
}

func TestLoad_CachedByRoot(t *testing.T) {
	dir := writeSuite(t, `
suite {
  name    = "s"
  version = "1.0.0"
}
`)
	store := NewStore()
	first, err := store.Load(context.Background(), dir)
	require.NoError(t, err)
	second, err := store.Load(context.Background(), dir)
	require.NoError(t, err)
	require.Same(t, first, second)
}

func TestParseSource_DependencySubGlob(t *testing.T) {
	src, err := ParseSource("extracted-dependency:sdk:TOOLS/share/*")
	require.NoError(t, err)
	require.Equal(t, SourceExtracted, src.Kind)
	ref, sub := src.DependencyRef()
	require.Equal(t, "sdk:TOOLS", ref)
	require.Equal(t, "share/*", sub)
}
