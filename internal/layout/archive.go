package layout

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"

	"suitebuild/internal/ctxlog"
)

// Archives are reproducible: entries are emitted in sorted path order with
// fixed timestamps, ownership and normalized modes, so re-packing an
// unchanged staging tree yields a byte-identical file.
var archiveEpoch = time.Unix(0, 0).UTC()

// Archive packs stageDir into a tgz or zip archive at outPath. The file is
// written to a temporary sibling and renamed into place.
func Archive(ctx context.Context, stageDir, outPath, format string) error {
	logger := ctxlog.FromContext(ctx)

	entries, err := collectEntries(stageDir)
	if err != nil {
		return fmt.Errorf("scanning staging dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(outPath), filepath.Base(outPath)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	switch format {
	case "tgz":
		err = writeTarGz(tmp, stageDir, entries)
	case "zip":
		err = writeZip(tmp, stageDir, entries)
	default:
		err = fmt.Errorf("unsupported archive format %q", format)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), outPath); err != nil {
		return err
	}
	logger.Debug("Wrote archive", "path", outPath, "format", format, "entries", len(entries))
	return nil
}

// archiveEntry is one staged path with slash-separated name relative to
// the staging root.
type archiveEntry struct {
	name string
	info fs.FileInfo
}

func collectEntries(stageDir string) ([]archiveEntry, error) {
	var entries []archiveEntry
	err := filepath.WalkDir(stageDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == stageDir {
			return nil
		}
		rel, err := filepath.Rel(stageDir, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, archiveEntry{name: filepath.ToSlash(rel), info: info})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
	return entries, nil
}

// normalizedMode collapses permissions to 0755 for directories and
// executables and 0644 otherwise, so host umask differences cannot leak
// into the archive.
func normalizedMode(info fs.FileInfo) fs.FileMode {
	if info.IsDir() || info.Mode().Perm()&0o111 != 0 {
		return 0o755
	}
	return 0o644
}

func writeTarGz(w io.Writer, stageDir string, entries []archiveEntry) error {
	gz := gzip.NewWriter(w)
	gz.ModTime = archiveEpoch
	tw := tar.NewWriter(gz)

	for _, e := range entries {
		full := filepath.Join(stageDir, filepath.FromSlash(e.name))
		hdr := &tar.Header{
			Name:    e.name,
			Mode:    int64(normalizedMode(e.info)),
			ModTime: archiveEpoch,
			Format:  tar.FormatPAX,
		}
		switch {
		case e.info.IsDir():
			hdr.Typeflag = tar.TypeDir
			hdr.Name += "/"
		case e.info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(full)
			if err != nil {
				return err
			}
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = filepath.ToSlash(target)
			hdr.Mode = 0o777
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = e.info.Size()
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if hdr.Typeflag == tar.TypeReg {
			if err := copyInto(tw, full); err != nil {
				return err
			}
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func writeZip(w io.Writer, stageDir string, entries []archiveEntry) error {
	zw := zip.NewWriter(w)
	for _, e := range entries {
		if e.info.IsDir() {
			continue
		}
		full := filepath.Join(stageDir, filepath.FromSlash(e.name))
		hdr := &zip.FileHeader{
			Name:     e.name,
			Method:   zip.Deflate,
			Modified: archiveEpoch,
		}
		if e.info.Mode()&fs.ModeSymlink != 0 {
			hdr.SetMode(fs.ModeSymlink | 0o777)
			fw, err := zw.CreateHeader(hdr)
			if err != nil {
				return err
			}
			target, err := os.Readlink(full)
			if err != nil {
				return err
			}
			if _, err := io.WriteString(fw, filepath.ToSlash(target)); err != nil {
				return err
			}
			continue
		}
		hdr.SetMode(normalizedMode(e.info))
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		if err := func() error {
			in, err := os.Open(full)
			if err != nil {
				return err
			}
			defer in.Close()
			_, err = io.Copy(fw, in)
			return err
		}(); err != nil {
			return err
		}
	}
	return zw.Close()
}

func copyInto(w io.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()
	_, err = io.Copy(w, in)
	return err
}

// OutputName returns the archive file name for a distribution output base,
// appending the format extension when not already present.
func OutputName(output, format string) string {
	ext := ".tar.gz"
	if format == "zip" {
		ext = ".zip"
	}
	if strings.HasSuffix(output, ext) || (format == "tgz" && strings.HasSuffix(output, ".tgz")) {
		return output
	}
	return output + ext
}
