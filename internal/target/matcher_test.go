package target

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"suitebuild/internal/descriptor"
)

func linuxToolchains() []ToolchainDef {
	return []ToolchainDef{
		{Kind: "ninja", Compiler: "zig", Target: Target{OS: "linux", Arch: "amd64", Libc: "glibc"}, Provider: "tc:ZIG_AMD64"},
		{Kind: "ninja", Compiler: "zig", Target: Target{OS: "linux", Arch: "amd64", Libc: "musl"}, Provider: "tc:ZIG_MUSL"},
		{Kind: "ninja", Compiler: "zig", Target: Target{OS: "linux", Arch: "aarch64", Libc: "glibc"}, Provider: "tc:ZIG_ARM"},
	}
}

func multitargetProject(decls ...*descriptor.MultitargetDecl) *descriptor.Project {
	return &descriptor.Project{Multitarget: decls}
}

func TestMatchProjectSingleRequestedTarget(t *testing.T) {
	project := multitargetProject(&descriptor.MultitargetDecl{
		OS:   []string{"linux"},
		Arch: []string{"amd64", "aarch64"},
	})
	requested, err := ParseSelections([]string{"linux-amd64-glibc"})
	require.NoError(t, err)

	res, err := MatchProject(project, linuxToolchains(), requested)
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	require.Equal(t, Target{OS: "linux", Arch: "amd64", Libc: "glibc"}, res.Matches[0].Target)
	require.Equal(t, "tc:ZIG_AMD64", res.Matches[0].Toolchain.Provider)
	require.Empty(t, res.Skipped)
}

func TestMatchProjectWildcardExpansion(t *testing.T) {
	project := multitargetProject(&descriptor.MultitargetDecl{
		OS:   []string{"linux"},
		Arch: []string{"amd64"},
		Libc: []string{"*"},
	})
	requested, err := ParseSelections([]string{"linux-amd64-*"})
	require.NoError(t, err)

	res, err := MatchProject(project, linuxToolchains(), requested)
	require.NoError(t, err)
	require.Len(t, res.Matches, 2)
	libcs := []string{res.Matches[0].Target.Libc, res.Matches[1].Target.Libc}
	require.ElementsMatch(t, []string{"glibc", "musl"}, libcs)
}

func TestMatchProjectWildcardRequestSkipsToolchainGaps(t *testing.T) {
	project := multitargetProject(&descriptor.MultitargetDecl{
		OS:   []string{"linux"},
		Arch: []string{"amd64", "aarch64", "riscv64"},
	})
	requested, err := ParseSelections([]string{"linux-*-glibc"})
	require.NoError(t, err)

	res, err := MatchProject(project, linuxToolchains(), requested)
	require.NoError(t, err)
	require.Len(t, res.Matches, 2)
	require.Equal(t, []Target{{OS: "linux", Arch: "riscv64", Libc: "glibc"}}, res.Skipped)
}

func TestWildcardLibcExpansionIsPerOS(t *testing.T) {
	reg := NewRegistry(linuxToolchains())

	supported, err := Expand([]*descriptor.MultitargetDecl{{
		OS:   []string{"linux"},
		Arch: []string{"amd64"},
		Libc: []string{"*"},
	}}, reg)
	require.NoError(t, err)
	require.Len(t, supported, 2)
	for _, sup := range supported {
		require.NotEqual(t, "default", sup.Target.Libc)
	}

	supported, err = Expand([]*descriptor.MultitargetDecl{{
		OS:   []string{"darwin"},
		Arch: []string{"amd64"},
		Libc: []string{"*"},
	}}, reg)
	require.NoError(t, err)
	require.Len(t, supported, 1)
	require.Equal(t, "default", supported[0].Target.Libc)
}

func TestMatchProjectExplicitWithoutToolchainFails(t *testing.T) {
	project := multitargetProject(&descriptor.MultitargetDecl{
		OS:   []string{"linux"},
		Arch: []string{"riscv64"},
	})
	requested, err := ParseSelections([]string{"linux-riscv64-glibc"})
	require.NoError(t, err)

	_, err = MatchProject(project, linuxToolchains(), requested)
	var unsupported *UnsupportedTargetError
	require.ErrorAs(t, err, &unsupported)
	require.Equal(t, "linux-riscv64-glibc", unsupported.Target.Name())
}

func TestMatchProjectImplicitWithoutToolchainSkips(t *testing.T) {
	project := multitargetProject(&descriptor.MultitargetDecl{
		OS:   []string{"linux"},
		Arch: []string{"riscv64"},
	})
	project.AlwaysTargets = []string{"linux-riscv64-glibc"}

	res, err := MatchProject(project, linuxToolchains(), nil)
	require.NoError(t, err)
	require.Empty(t, res.Matches)
	require.Equal(t, []Target{{OS: "linux", Arch: "riscv64", Libc: "glibc"}}, res.Skipped)
}

func TestMatchProjectDefaultsToHost(t *testing.T) {
	host := Host()
	toolchains, err := CollectToolchains(nil)
	require.NoError(t, err)

	res, err := MatchProject(&descriptor.Project{}, toolchains, nil)
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	require.Equal(t, host, res.Matches[0].Target)
	require.Equal(t, "host", res.Matches[0].Toolchain.Compiler)
}

func TestMatchProjectRequestOutsideSupportSetIgnored(t *testing.T) {
	project := multitargetProject(&descriptor.MultitargetDecl{
		OS:   []string{"linux"},
		Arch: []string{"amd64"},
	})
	requested, err := ParseSelections([]string{"linux-aarch64-glibc"})
	require.NoError(t, err)

	res, err := MatchProject(project, linuxToolchains(), requested)
	require.NoError(t, err)
	require.Empty(t, res.Matches)
}

func TestMatchProjectCompilerPreference(t *testing.T) {
	toolchains := append(linuxToolchains(),
		ToolchainDef{Kind: "ninja", Compiler: "gcc", Target: Target{OS: "linux", Arch: "amd64", Libc: "glibc"}, Provider: "tc:GCC_AMD64"})
	project := multitargetProject(&descriptor.MultitargetDecl{
		OS:       []string{"linux"},
		Arch:     []string{"amd64"},
		Compiler: []string{"gcc", "*"},
	})
	requested, err := ParseSelections([]string{"linux-amd64-glibc"})
	require.NoError(t, err)

	res, err := MatchProject(project, toolchains, requested)
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	require.Equal(t, "tc:GCC_AMD64", res.Matches[0].Toolchain.Provider)
}

func TestMatchProjectUnknownAxisValueFailsClosed(t *testing.T) {
	project := multitargetProject(&descriptor.MultitargetDecl{
		OS:   []string{"plan9"},
		Arch: []string{"amd64"},
	})
	_, err := MatchProject(project, linuxToolchains(), nil)
	require.ErrorContains(t, err, `unknown os value "plan9"`)
}

func TestCollectToolchains(t *testing.T) {
	s := loadSuite(t, `
suite {
  name    = "tc"
  version = "1.0.0"
}

distribution "ZIG_MUSL" {
  toolchain {
    kind     = "ninja"
    compiler = "zig"
    target {
      os   = "linux"
      arch = "amd64"
      libc = "musl"
    }
  }
}
`)
	defs, err := CollectToolchains([]*descriptor.Suite{s})
	require.NoError(t, err)
	require.Len(t, defs, 2)
	require.Equal(t, Host(), defs[0].Target)
	require.Equal(t, "host", defs[0].Compiler)
	require.Equal(t, "tc:ZIG_MUSL", defs[1].Provider)
	require.Equal(t, Target{OS: "linux", Arch: "amd64", Libc: "musl"}, defs[1].Target)
}

func TestCollectToolchainsRejectsDuplicates(t *testing.T) {
	s := loadSuite(t, `
suite {
  name    = "tc"
  version = "1.0.0"
}

distribution "A" {
  toolchain {
    kind     = "ninja"
    compiler = "zig"
    target {
      os   = "linux"
      arch = "amd64"
      libc = "musl"
    }
  }
}

distribution "B" {
  toolchain {
    kind     = "ninja"
    compiler = "zig"
    target {
      os   = "linux"
      arch = "amd64"
      libc = "musl"
    }
  }
}
`)
	_, err := CollectToolchains([]*descriptor.Suite{s})
	require.ErrorContains(t, err, "duplicates compiler")
}

func loadSuite(t *testing.T, content string) *descriptor.Suite {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, descriptor.FileName), []byte(content), 0o644))
	s, err := descriptor.NewStore().Load(context.Background(), dir)
	require.NoError(t, err)
	return s
}

func TestSelectionParsing(t *testing.T) {
	sel, err := ParseSelection("linux-amd64-musl-v2")
	require.NoError(t, err)
	require.True(t, sel.Matches(Target{OS: "linux", Arch: "amd64", Libc: "musl", Variant: "v2"}))
	require.False(t, sel.Matches(Target{OS: "linux", Arch: "amd64", Libc: "musl"}))

	host := Host()
	sel, err = ParseSelection("default-default-default")
	require.NoError(t, err)
	require.True(t, sel.Matches(host))

	_, err = ParseSelection("linux-amd64")
	require.ErrorContains(t, err, "malformed target selection")

	sels, err := ParseSelections([]string{"linux-amd64-glibc,linux-aarch64-glibc"})
	require.NoError(t, err)
	require.Len(t, sels, 2)
}

func TestSelectionNoVariantOnlyMatchesBareTargets(t *testing.T) {
	sel, err := ParseSelection("linux-amd64-glibc")
	require.NoError(t, err)
	require.True(t, sel.Matches(Target{OS: "linux", Arch: "amd64", Libc: "glibc"}))
	require.False(t, sel.Matches(Target{OS: "linux", Arch: "amd64", Libc: "glibc", Variant: "v2"}))
}
