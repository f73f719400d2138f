package app

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	"suitebuild/internal/builder"
	"suitebuild/internal/ctxlog"
	"suitebuild/internal/descriptor"
	"suitebuild/internal/fingerprint"
	"suitebuild/internal/graph"
	"suitebuild/internal/scheduler"
	"suitebuild/internal/suite"
	"suitebuild/internal/target"
	"suitebuild/internal/urlrewrite"
)

// plan is the loaded state shared by the build and archive operations.
type plan struct {
	resolution *suite.Resolution
	graph      *graph.Graph
	rewrites   *urlrewrite.Rules
	runner     *builder.Runner
}

// Build resolves the suite closure rooted at the primary checkout and
// builds every unit (or the closure of the configured units).
func (a *App) Build(ctx context.Context) (*scheduler.Summary, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	p, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	g := p.graph
	if len(a.config.Units) > 0 {
		roots := a.qualifyUnits(p.resolution)
		if g, err = g.Restrict(roots); err != nil {
			return nil, err
		}
		a.logger.Debug("Restricted build graph", "roots", roots, "units", g.Len())
	}

	store, err := fingerprint.Open(filepath.Join(a.buildDir(p), "fingerprints.db"))
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return a.schedule(ctx, g, p, store)
}

// Archive rebuilds exactly one distribution, forcing its reassembly while
// its prerequisites are brought up to date incrementally.
func (a *App) Archive(ctx context.Context, distRef string) (*scheduler.Summary, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	p, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	ref := descriptor.QualifyRef(p.resolution.Primary().Name, distRef)
	node, ok := p.graph.Node(ref)
	if !ok {
		return nil, fmt.Errorf("unknown distribution %q", ref)
	}
	if node.Def.DefKind() != descriptor.KindDistribution {
		return nil, fmt.Errorf("%q is a %s, not a distribution", ref, node.Def.DefKind())
	}
	g, err := p.graph.Restrict([]string{ref})
	if err != nil {
		return nil, err
	}

	store, err := fingerprint.Open(filepath.Join(a.buildDir(p), "fingerprints.db"))
	if err != nil {
		return nil, err
	}
	defer store.Close()
	if err := store.Delete(ref); err != nil {
		return nil, err
	}

	return a.schedule(ctx, g, p, store)
}

// DirectClone materializes a single suite checkout outside normal import
// resolution: the source URL (after rewrite rules) is cloned into dest and
// the suite root, honoring subdir, is returned.
func (a *App) DirectClone(ctx context.Context, source, dest, subdir, rev string) (string, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	rewrites, err := a.envRewrites(ctx)
	if err != nil {
		return "", err
	}
	url := rewrites.Apply(source)
	if err := a.fetcher.Clone(ctx, url, dest, rev); err != nil {
		return "", err
	}
	root := dest
	if subdir != "" {
		root = filepath.Join(dest, subdir)
	}
	a.logger.Info("Suite checkout ready", "url", url, "root", root)
	return root, nil
}

// SuiteClone resolves the primary suite with the named import activated,
// fetching its pinned checkout when absent, and returns the checkout root.
func (a *App) SuiteClone(ctx context.Context, name string) (string, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	rewrites, err := a.envRewrites(ctx)
	if err != nil {
		return "", err
	}
	resolver := &suite.Resolver{Store: a.store, Fetcher: a.fetcher, ExtraRewrites: rewrites}
	res, err := resolver.Resolve(ctx, a.config.PrimaryDir, append(a.config.DynamicImports, name))
	if err != nil {
		return "", err
	}
	cloned, ok := res.Lookup(name)
	if !ok {
		return "", fmt.Errorf("suite %q is not imported by the resolved closure", name)
	}
	a.logger.Info("Suite checkout ready", "suite", name, "root", cloned.Root)
	return cloned.Root, nil
}

func (a *App) load(ctx context.Context) (*plan, error) {
	rewrites, err := a.envRewrites(ctx)
	if err != nil {
		return nil, err
	}
	resolver := &suite.Resolver{Store: a.store, Fetcher: a.fetcher, ExtraRewrites: rewrites}
	res, err := resolver.Resolve(ctx, a.config.PrimaryDir, a.config.DynamicImports)
	if err != nil {
		return nil, err
	}
	a.logger.Info("Resolved suite closure", "suites", len(res.Suites()), "primary", res.Primary().Name)

	g, err := graph.Build(ctx, res.Suites())
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Dependency graph built", "units", g.Len())

	runner, err := a.newRunner(ctx, res, g, rewrites)
	if err != nil {
		return nil, err
	}
	return &plan{resolution: res, graph: g, rewrites: rewrites, runner: runner}, nil
}

// newRunner matches build targets for every project up front, so target
// problems surface before any unit is scheduled.
func (a *App) newRunner(ctx context.Context, res *suite.Resolution, g *graph.Graph, rewrites *urlrewrite.Rules) (*builder.Runner, error) {
	logger := ctxlog.FromContext(ctx)

	suites := make([]*descriptor.Suite, 0, len(res.Suites()))
	for _, s := range res.Suites() {
		suites = append(suites, s.Suite)
	}
	toolchains, err := target.CollectToolchains(suites)
	if err != nil {
		return nil, err
	}
	requested, err := target.ParseSelections(a.config.Multitarget)
	if err != nil {
		return nil, err
	}

	matches := make(map[string][]target.Match)
	for _, node := range g.Nodes() {
		project, ok := node.Def.(*descriptor.Project)
		if !ok {
			continue
		}
		result, err := target.MatchProject(project, toolchains, requested)
		if err != nil {
			return nil, err
		}
		for _, skipped := range result.Skipped {
			logger.Warn("Skipping target, no toolchain available",
				"project", node.ID(), "target", skipped.Name())
		}
		// A matched toolchain built by a distribution must exist before the
		// project compiles against it.
		for _, m := range result.Matches {
			if m.Toolchain.Provider == "" {
				continue
			}
			if err := g.AddDependency(node.ID(), m.Toolchain.Provider); err != nil {
				return nil, fmt.Errorf("project %q: toolchain provider: %w", node.ID(), err)
			}
		}
		matches[node.ID()] = result.Matches
	}

	return &builder.Runner{
		Workspace: builder.NewWorkspace(a.buildDirFor(res)),
		Compiler:  &builder.CompilerService{Argv: a.config.CompilerArgv, Timeout: a.config.CompilerTimeout},
		Rewrites:  rewrites,
		Matches:   matches,
		SuiteRoot: func(name string) (string, bool) {
			s, ok := res.Lookup(name)
			if !ok {
				return "", false
			}
			return s.Root, true
		},
	}, nil
}

func (a *App) schedule(ctx context.Context, g *graph.Graph, p *plan, store *fingerprint.Store) (*scheduler.Summary, error) {
	jobs := a.config.Jobs
	if jobs < 1 {
		jobs = runtime.NumCPU()
	}
	sched := &scheduler.Scheduler{
		Builder: p.runner,
		Store:   store,
		Force:   a.config.Force,
		Jobs:    jobs,
	}
	summary, err := sched.Run(ctx, g)
	if summary != nil {
		fmt.Fprintf(a.outW, "%s\n", summary)
		for _, f := range summary.Failures {
			fmt.Fprintf(a.outW, "failed: %s: %v\n", f.Unit, f.Err)
		}
	}
	return summary, err
}

// envRewrites loads the operator-level rewrite rules from the environment;
// suite-declared rules are applied first, these afterwards.
func (a *App) envRewrites(ctx context.Context) (*urlrewrite.Rules, error) {
	rules := &urlrewrite.Rules{}
	if err := rules.AppendFromEnv(ctx, urlrewrite.EnvVar); err != nil {
		return nil, err
	}
	return rules, nil
}

func (a *App) buildDir(p *plan) string {
	return a.buildDirFor(p.resolution)
}

func (a *App) buildDirFor(res *suite.Resolution) string {
	return filepath.Join(res.Primary().Root, "build")
}

func (a *App) qualifyUnits(res *suite.Resolution) []string {
	roots := make([]string, len(a.config.Units))
	for i, u := range a.config.Units {
		roots[i] = descriptor.QualifyRef(res.Primary().Name, u)
	}
	return roots
}
