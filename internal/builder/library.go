package builder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"suitebuild/internal/ctxlog"
	"suitebuild/internal/descriptor"
	"suitebuild/internal/graph"
)

// ChecksumError reports a fetched library artifact whose content does not
// match its pinned digest.
type ChecksumError struct {
	Library string
	URL     string
	Want    string
	Got     string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("library %q: %s: checksum mismatch: want %s, got %s", e.Library, e.URL, e.Want, e.Got)
}

// fetchLibrary downloads the library artifact, trying each candidate URL
// in order and verifying the pinned sha256. An artifact already on disk
// with the right digest is kept, so libraries are never rebuilt.
func (r *Runner) fetchLibrary(ctx context.Context, node *graph.Node, lib *descriptor.Library) error {
	logger := ctxlog.FromContext(ctx)

	dest, err := r.primaryOutput(node)
	if err != nil {
		return err
	}
	want := strings.ToLower(lib.SHA256)
	if got, err := fileSHA256(dest); err == nil {
		if got == want {
			logger.Debug("Library artifact already verified", "library", node.ID(), "path", dest)
			return nil
		}
		logger.Warn("Library artifact has wrong checksum, refetching", "library", node.ID(), "path", dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	var attempts []error
	for _, raw := range lib.URLs {
		url := raw
		if r.Rewrites != nil {
			url = r.Rewrites.Apply(url)
		}
		if err := r.download(ctx, node.ID(), url, dest, want); err != nil {
			logger.Warn("Library fetch failed, trying next URL", "library", node.ID(), "url", url, "error", err)
			attempts = append(attempts, fmt.Errorf("%s: %w", url, err))
			continue
		}
		logger.Info("Fetched library", "library", node.ID(), "url", url)
		return nil
	}
	return fmt.Errorf("library %q: all %d URLs failed: %w", node.ID(), len(attempts), errors.Join(attempts...))
}

// download streams one URL into a temporary file, verifying the digest
// before moving it into place.
func (r *Runner) download(ctx context.Context, unit, url, dest, want string) error {
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	sum := sha256.New()
	_, err = io.Copy(io.MultiWriter(tmp, sum), resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if got := hex.EncodeToString(sum.Sum(nil)); got != want {
		return &ChecksumError{Library: unit, URL: url, Want: want, Got: got}
	}
	return os.Rename(tmp.Name(), dest)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	sum := sha256.New()
	if _, err := io.Copy(sum, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}
