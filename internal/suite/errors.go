package suite

import (
	"errors"
	"fmt"
	"strings"
)

// UnresolvedImportError reports a non-dynamic import whose checkout could
// not be located.
type UnresolvedImportError struct {
	Importer string
	Import   string
	Dir      string
}

func (e *UnresolvedImportError) Error() string {
	return fmt.Sprintf(
		"suite %q imports %q, but no checkout exists at %s (non-dynamic imports must be present locally)",
		e.Importer, e.Import, e.Dir)
}

// VersionConflictError reports two importers pinning incompatible versions
// of the same suite, naming both sides so the metadata can be fixed.
type VersionConflictError struct {
	Suite string

	FirstImporter string
	FirstPin      string
	Resolved      Version

	SecondImporter string
	SecondPin      string
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf(
		"incompatible version pins for suite %q: %q resolved it at %s (pin %s), but %q requires %s",
		e.Suite, e.FirstImporter, e.Resolved, orNone(e.FirstPin), e.SecondImporter, orNone(e.SecondPin))
}

func orNone(pin string) string {
	if pin == "" {
		return "none"
	}
	return pin
}

// FetchError reports that every candidate URL of a dynamic import failed.
type FetchError struct {
	Suite    string
	Attempts []error
}

func (e *FetchError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("suite %q: no fetchable URL (no candidate with a supported kind)", e.Suite)
	}
	msgs := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		msgs[i] = a.Error()
	}
	return fmt.Sprintf("suite %q: all candidate URLs failed:\n  %s", e.Suite, strings.Join(msgs, "\n  "))
}

func (e *FetchError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return errors.Join(e.Attempts...)
}
