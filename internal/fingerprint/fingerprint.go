// Package fingerprint persists per-unit input fingerprints between builds.
// A unit whose stored fingerprint matches its current input hash, and whose
// outputs still exist, is clean and skipped by the scheduler.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("fingerprints")

// Store is a bbolt-backed fingerprint database.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the fingerprint database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating fingerprint dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening fingerprint store %q: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing fingerprint store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Get returns the stored fingerprint for a key, or "" when absent.
func (s *Store) Get(key string) (string, error) {
	var out string
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketName).Get([]byte(key)); v != nil {
			out = string(v)
		}
		return nil
	})
	return out, err
}

// Put records the fingerprint for a key.
func (s *Store) Put(key, fingerprint string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), []byte(fingerprint))
	})
}

// Delete drops a key, forcing a rebuild on the next run.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
}

// Hasher accumulates build inputs into one hex fingerprint. Inputs are
// folded in a canonical order so map iteration cannot perturb the result.
type Hasher struct {
	parts []string
}

// Add folds in one labeled value.
func (h *Hasher) Add(label, value string) {
	h.parts = append(h.parts, label+"="+value)
}

// AddFile folds in a file's path and content.
func (h *Hasher) AddFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sum := sha256.New()
	if _, err := io.Copy(sum, f); err != nil {
		return err
	}
	h.Add("file:"+filepath.ToSlash(path), hex.EncodeToString(sum.Sum(nil)))
	return nil
}

// AddTree folds in every regular file under root, by root-relative path.
func (h *Hasher) AddTree(root string) error {
	var files []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, p := range files {
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		sum := sha256.New()
		_, err = io.Copy(sum, f)
		f.Close()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		h.Add("file:"+filepath.ToSlash(rel), hex.EncodeToString(sum.Sum(nil)))
	}
	return nil
}

// Sum returns the combined fingerprint.
func (h *Hasher) Sum() string {
	sort.Strings(h.parts)
	sum := sha256.New()
	for _, p := range h.parts {
		io.WriteString(sum, p)
		sum.Write([]byte{0})
	}
	return hex.EncodeToString(sum.Sum(nil))
}
