package urlrewrite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"suitebuild/internal/descriptor"
)

func TestApply_FirstMatchingRuleWins(t *testing.T) {
	rules, err := New([]*descriptor.URLRewriteDecl{
		{Pattern: `https://example\.org/(.*)`, Replacement: "https://mirror-a.internal/$1"},
		{Pattern: `https://example\.org/sdk\.git`, Replacement: "https://mirror-b.internal/sdk.git"},
	})
	require.NoError(t, err)

	// The second rule also matches, but declaration order decides.
	got := rules.Apply("https://example.org/sdk.git")
	require.Equal(t, "https://mirror-a.internal/sdk.git", got)
}

func TestApply_NoMatchPassesThrough(t *testing.T) {
	rules, err := New([]*descriptor.URLRewriteDecl{
		{Pattern: `https://example\.org/(.*)`, Replacement: "https://mirror.internal/$1"},
	})
	require.NoError(t, err)
	require.Equal(t, "https://other.org/x", rules.Apply("https://other.org/x"))
}

func TestApply_PartialMatchDoesNotRewrite(t *testing.T) {
	rules, err := New([]*descriptor.URLRewriteDecl{
		{Pattern: `example\.org`, Replacement: "mirror.internal"},
	})
	require.NoError(t, err)
	// The pattern matches a substring only, so the URL stays untouched.
	require.Equal(t, "https://example.org/x", rules.Apply("https://example.org/x"))
}

func TestApply_AlternationCoveringWholeURLRewrites(t *testing.T) {
	rules, err := New([]*descriptor.URLRewriteDecl{
		{Pattern: `a|ab`, Replacement: "rewritten"},
	})
	require.NoError(t, err)
	// The first alternative only covers a prefix; the full-URL anchor makes
	// the second one rewrite anyway.
	require.Equal(t, "rewritten", rules.Apply("ab"))
	require.Equal(t, "abc", rules.Apply("abc"))
}

func TestAppendFromEnv_JSONObjectAndArray(t *testing.T) {
	rules, err := New(nil)
	require.NoError(t, err)

	t.Setenv(EnvVar, `{"https://a\\.example/(.*)": {"replacement": "https://cache/a/$1"}}`)
	require.NoError(t, rules.AppendFromEnv(context.Background(), EnvVar))
	require.Equal(t, 1, rules.Len())
	require.Equal(t, "https://cache/a/x", rules.Apply("https://a.example/x"))

	t.Setenv(EnvVar, `[{"https://b\\.example/(.*)": {"replacement": "https://cache/b/$1"}}]`)
	require.NoError(t, rules.AppendFromEnv(context.Background(), EnvVar))
	require.Equal(t, 2, rules.Len())
	require.Equal(t, "https://cache/b/y", rules.Apply("https://b.example/y"))
}

func TestAppendFromEnv_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rewrites.json")
	content := `[{"https://c\\.example/(.*)": {"replacement": "https://cache/c/$1"}}]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	rules, err := New(nil)
	require.NoError(t, err)
	t.Setenv(EnvVar, path)
	require.NoError(t, rules.AppendFromEnv(context.Background(), EnvVar))
	require.Equal(t, "https://cache/c/z", rules.Apply("https://c.example/z"))
}

func TestAppendFromEnv_MissingReplacement(t *testing.T) {
	rules, err := New(nil)
	require.NoError(t, err)
	t.Setenv(EnvVar, `{"https://a\\.example/(.*)": {}}`)
	require.Error(t, rules.AppendFromEnv(context.Background(), EnvVar))
}
