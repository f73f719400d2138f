package suite

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"suitebuild/internal/ctxlog"
)

// Fetcher materializes a suite checkout from a URL. Implementations must
// serialize concurrent calls targeting the same destination directory.
type Fetcher interface {
	Clone(ctx context.Context, url, dest, rev string) error
}

// GitFetcher clones git URLs with go-git. Clones for the same destination
// are mutually exclusive; a destination that already exists is left alone.
type GitFetcher struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewGitFetcher returns a ready-to-use fetcher.
func NewGitFetcher() *GitFetcher {
	return &GitFetcher{locks: make(map[string]*sync.Mutex)}
}

func (f *GitFetcher) lockFor(dest string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[dest]
	if !ok {
		l = &sync.Mutex{}
		f.locks[dest] = l
	}
	return l
}

// Clone clones url into dest and, when rev is non-empty, checks out that
// revision. A failed clone removes the partial destination so the caller
// can retry against the next candidate URL.
func (f *GitFetcher) Clone(ctx context.Context, url, dest, rev string) error {
	logger := ctxlog.FromContext(ctx)

	lock := f.lockFor(dest)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(dest); err == nil {
		// Another fetch won the race while we waited for the lock.
		logger.Debug("Checkout already present, skipping clone.", "dest", dest)
		return nil
	}

	logger.Info("Cloning suite checkout.", "url", url, "dest", dest, "rev", rev)
	repo, err := git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{URL: url})
	if err != nil {
		os.RemoveAll(dest)
		return fmt.Errorf("cloning %s: %w", url, err)
	}

	if rev != "" {
		if err := checkout(repo, rev); err != nil {
			os.RemoveAll(dest)
			return fmt.Errorf("checking out %s of %s: %w", rev, url, err)
		}
	}
	return nil
}

func checkout(repo *git.Repository, rev string) error {
	// Version pins are usually tags, optionally v-prefixed.
	var resolveErr error
	for _, candidate := range []string{rev, "v" + rev} {
		hash, err := repo.ResolveRevision(plumbing.Revision(candidate))
		if err != nil {
			resolveErr = err
			continue
		}
		wt, err := repo.Worktree()
		if err != nil {
			return err
		}
		return wt.Checkout(&git.CheckoutOptions{Hash: *hash})
	}
	return resolveErr
}
