// Package app wires the resolver, graph, target matcher and scheduler into
// the operations the command line exposes.
package app

import (
	"io"
	"log/slog"
	"time"

	"suitebuild/internal/descriptor"
	"suitebuild/internal/suite"
)

// Config holds everything an App instance needs to run.
type Config struct {
	// PrimaryDir is the checkout of the suite the build is rooted at.
	PrimaryDir string
	// DynamicImports names the dynamic suite imports to activate, already
	// merged from flags and environment.
	DynamicImports []string
	// Multitarget holds the requested target selections
	// (os-arch-libc[-variant], "*" and "default" allowed).
	Multitarget []string
	// Units restricts the build to the dependency closure of these units.
	// Bare names are qualified against the primary suite.
	Units []string

	Jobs            int
	Force           bool
	CompilerArgv    []string
	CompilerTimeout time.Duration

	LogLevel  string
	LogFormat string
}

// App encapsulates the tool's dependencies and lifecycle. Loggers are
// instance-scoped so embedding tests stay isolated.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config

	store   *descriptor.Store
	fetcher suite.Fetcher
}

// New returns a fully initialized App with its own logger.
func New(outW io.Writer, cfg *Config) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured", "level", cfg.LogLevel, "format", cfg.LogFormat)

	return &App{
		outW:    outW,
		logger:  logger,
		config:  cfg,
		store:   descriptor.NewStore(),
		fetcher: suite.NewGitFetcher(),
	}
}

// Logger exposes the app-scoped logger for the CLI layer.
func (a *App) Logger() *slog.Logger { return a.logger }
