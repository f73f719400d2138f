// Package suite computes the transitive suite-import closure starting from
// the primary suite. Resolution follows a breadth-first traversal with a
// first-resolved-wins policy: once a suite is resolved, later importers only
// compatibility-check against it, they never replace it. The resolution
// order is caller-visible and deterministic.
package suite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"suitebuild/internal/ctxlog"
	"suitebuild/internal/descriptor"
	"suitebuild/internal/urlrewrite"
)

// supportedURLKinds are the checkout kinds the fetcher can materialize.
var supportedURLKinds = map[string]bool{"git": true}

// Resolved is one suite of the closure together with its effective version.
type Resolved struct {
	*descriptor.Suite
	EffectiveVersion Version

	// firstImporter/firstPin remember who resolved the suite first, for
	// conflict reporting against later importers.
	firstImporter string
	firstPin      string
}

// Resolution is the result of one closure computation. It is an explicit
// context object: independent resolutions can coexist within one process.
type Resolution struct {
	primary *Resolved
	byName  map[string]*Resolved
	order   []string
}

// Primary returns the primary suite.
func (r *Resolution) Primary() *Resolved { return r.primary }

// Lookup returns the resolved suite with the given name.
func (r *Resolution) Lookup(name string) (*Resolved, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// Suites returns every resolved suite in first-resolved (breadth-first)
// order, the primary suite first. This order is part of the contract.
func (r *Resolution) Suites() []*Resolved {
	out := make([]*Resolved, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

func (r *Resolution) add(s *Resolved) {
	r.byName[s.Name] = s
	r.order = append(r.order, s.Name)
}

// Resolver computes suite closures. Fields are set once before use.
type Resolver struct {
	Store   *descriptor.Store
	Fetcher Fetcher
	// ExtraRewrites are rules supplied out-of-band (e.g. MX_URLREWRITES),
	// applied after the primary suite's own rules.
	ExtraRewrites *urlrewrite.Rules
}

// queueItem is one import edge awaiting resolution.
type queueItem struct {
	imp      *descriptor.SuiteImport
	importer *Resolved
	// viaDynamic is true when the importer itself was reached through an
	// activated dynamic import; such a suite's own dynamic imports are
	// transitively activated.
	viaDynamic bool
}

// Resolve computes the closure starting at primaryDir. Dynamic imports are
// only followed when named in dynamicImports or reached through an already
// activated dynamic import; inactive dynamic imports and their dependency
// definitions are skipped entirely.
func (r *Resolver) Resolve(ctx context.Context, primaryDir string, dynamicImports []string) (*Resolution, error) {
	logger := ctxlog.FromContext(ctx)

	primarySuite, err := r.Store.Load(ctx, primaryDir)
	if err != nil {
		return nil, err
	}
	primaryVersion, err := ParseVersion(primarySuite.Version)
	if err != nil {
		return nil, fmt.Errorf("suite %q: %w", primarySuite.Name, err)
	}

	rewrites, err := urlrewrite.New(primarySuite.URLRewrites)
	if err != nil {
		return nil, err
	}
	rewrites.Extend(r.ExtraRewrites)

	activated := make(map[string]bool, len(dynamicImports))
	for _, name := range dynamicImports {
		activated[name] = true
	}

	res := &Resolution{byName: make(map[string]*Resolved)}
	res.primary = &Resolved{Suite: primarySuite, EffectiveVersion: primaryVersion}
	res.add(res.primary)

	logger.Debug("Starting suite resolution.",
		"primary", primarySuite.Name, "dynamic_imports", dynamicImports)

	level := enqueueImports(res.primary, false, activated)
	for len(level) > 0 {
		// Fetch every missing checkout of this level in parallel before
		// resolving the level sequentially in declaration order.
		if err := r.prefetch(ctx, res, level, rewrites); err != nil {
			return nil, err
		}

		var next []queueItem
		for _, item := range level {
			resolved, err := r.resolveImport(ctx, res, item, rewrites)
			if err != nil {
				return nil, err
			}
			if resolved == nil {
				continue // already resolved earlier, or skipped
			}
			childDynamic := item.viaDynamic || item.imp.Dynamic
			next = append(next, enqueueImports(resolved, childDynamic, activated)...)
		}
		level = next
	}

	logger.Debug("Suite resolution complete.", "suites", len(res.order))
	return res, nil
}

// enqueueImports turns a suite's imports into queue items, dropping dynamic
// imports that are not activated.
func enqueueImports(s *Resolved, viaDynamic bool, activated map[string]bool) []queueItem {
	var items []queueItem
	for _, imp := range s.Imports {
		if imp.Dynamic && !viaDynamic && !activated[imp.Name] {
			continue
		}
		items = append(items, queueItem{imp: imp, importer: s, viaDynamic: viaDynamic})
	}
	return items
}

// checkoutDir determines where an import's checkout lives: inside the
// importing suite's checkout for subdir imports, otherwise as a sibling of
// the primary suite.
func (r *Resolver) checkoutDir(res *Resolution, item queueItem) string {
	if item.imp.Subdir {
		return filepath.Join(item.importer.Root, item.imp.Name)
	}
	return filepath.Join(filepath.Dir(res.primary.Root), item.imp.Name)
}

func checkoutExists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, descriptor.FileName))
	return err == nil
}

// prefetch clones, in parallel, every import of the level that is missing
// locally and is eligible for fetching. Per-destination mutual exclusion is
// the fetcher's responsibility.
func (r *Resolver) prefetch(ctx context.Context, res *Resolution, level []queueItem, rewrites *urlrewrite.Rules) error {
	g, gctx := errgroup.WithContext(ctx)
	seen := make(map[string]bool)
	for _, item := range level {
		if _, done := res.Lookup(item.imp.Name); done {
			continue
		}
		dir := r.checkoutDir(res, item)
		if checkoutExists(dir) || !item.imp.Dynamic || len(item.imp.URLs) == 0 {
			continue
		}
		if seen[dir] {
			continue
		}
		seen[dir] = true
		item := item
		g.Go(func() error {
			return r.fetch(gctx, item.imp, dir, rewrites)
		})
	}
	return g.Wait()
}

// fetch tries each candidate URL with a supported kind, rewritten by the
// registered rules, until one succeeds.
func (r *Resolver) fetch(ctx context.Context, imp *descriptor.SuiteImport, dest string, rewrites *urlrewrite.Rules) error {
	logger := ctxlog.FromContext(ctx)

	var attempts []error
	for _, u := range imp.URLs {
		if !supportedURLKinds[u.Kind] {
			logger.Debug("Skipping URL with unsupported kind.", "suite", imp.Name, "url", u.Source, "kind", u.Kind)
			continue
		}
		url := rewrites.Apply(u.Source)
		if err := r.Fetcher.Clone(ctx, url, dest, imp.Version); err != nil {
			logger.Warn("Candidate URL failed, trying next.", "suite", imp.Name, "url", url, "error", err)
			attempts = append(attempts, err)
			continue
		}
		return nil
	}
	return &FetchError{Suite: imp.Name, Attempts: attempts}
}

// resolveImport resolves a single import edge. It returns the newly resolved
// suite, or nil when the import resolved to an existing suite or was skipped.
func (r *Resolver) resolveImport(ctx context.Context, res *Resolution, item queueItem, rewrites *urlrewrite.Rules) (*Resolved, error) {
	logger := ctxlog.FromContext(ctx)
	imp := item.imp

	var pin Version
	pinned := imp.Version != ""
	if pinned {
		v, err := ParseVersion(imp.Version)
		if err != nil {
			return nil, fmt.Errorf("suite %q, import %q: %w", item.importer.Name, imp.Name, err)
		}
		pin = v
	}

	if existing, ok := res.Lookup(imp.Name); ok {
		// First-resolved-wins: only verify compatibility.
		if pinned && !existing.EffectiveVersion.Satisfies(pin) {
			return nil, &VersionConflictError{
				Suite:          imp.Name,
				FirstImporter:  existing.firstImporter,
				FirstPin:       existing.firstPin,
				Resolved:       existing.EffectiveVersion,
				SecondImporter: item.importer.Name,
				SecondPin:      imp.Version,
			}
		}
		logger.Debug("Import already resolved, keeping first instance.",
			"suite", imp.Name, "importer", item.importer.Name)
		return nil, nil
	}

	dir := r.checkoutDir(res, item)
	if !checkoutExists(dir) {
		if !imp.Dynamic {
			return nil, &UnresolvedImportError{Importer: item.importer.Name, Import: imp.Name, Dir: dir}
		}
		// Dynamic imports were prefetched; reaching this point means the
		// import has no fetchable URL at all.
		if len(imp.URLs) == 0 {
			return nil, &FetchError{Suite: imp.Name}
		}
		if err := r.fetch(ctx, imp, dir, rewrites); err != nil {
			return nil, err
		}
	}

	loaded, err := r.Store.Load(ctx, dir)
	if err != nil {
		return nil, err
	}
	if loaded.Name != imp.Name {
		return nil, fmt.Errorf(
			"checkout at %s declares suite %q, but %q imports it as %q", dir, loaded.Name, item.importer.Name, imp.Name)
	}
	version, err := ParseVersion(loaded.Version)
	if err != nil {
		return nil, fmt.Errorf("suite %q: %w", loaded.Name, err)
	}
	if pinned && !version.Satisfies(pin) {
		return nil, &VersionConflictError{
			Suite:          imp.Name,
			FirstImporter:  item.importer.Name,
			FirstPin:       imp.Version,
			Resolved:       version,
			SecondImporter: item.importer.Name,
			SecondPin:      imp.Version,
		}
	}

	resolved := &Resolved{
		Suite:            loaded,
		EffectiveVersion: version,
		firstImporter:    item.importer.Name,
		firstPin:         imp.Version,
	}
	res.add(resolved)
	logger.Debug("Suite resolved.", "suite", loaded.Name, "version", version, "dir", dir)
	return resolved, nil
}
