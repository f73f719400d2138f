// Package cli defines the suitebuild command line: the build, archive and
// sclone subcommands plus the flag and environment plumbing they share.
package cli

import (
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"suitebuild/internal/app"
)

// Environment variables honored next to the flags.
const (
	envDynamicImports        = "DYNAMIC_IMPORTS"
	envDefaultDynamicImports = "DEFAULT_DYNAMIC_IMPORTS"
	envMultitarget           = "MULTITARGET"
)

// ExitError carries a specific process exit code up to main.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

type options struct {
	outW io.Writer
	v    *viper.Viper
}

// New builds the root command with its subcommands. Output and viper state
// are instance-scoped so tests can run commands in isolation.
func New(outW io.Writer) *cobra.Command {
	o := &options{outW: outW, v: viper.New()}
	o.v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "suitebuild",
		Short:         "Multi-suite build orchestrator",
		Long:          "suitebuild resolves version-pinned suite imports, orders the cross-suite dependency graph and builds projects, libraries and distributions.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	// --dynamicimports is the long spelling of --dy.
	pf.SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		if name == "dynamicimports" {
			name = "dy"
		}
		return pflag.NormalizedName(name)
	})
	pf.StringP("primary", "C", ".", "primary suite checkout directory")
	pf.StringSlice("dy", nil, "dynamic suite imports to activate (also "+envDynamicImports+")")
	pf.StringSlice("multitarget", nil, "target selections os-arch-libc[-variant] (also "+envMultitarget+")")
	pf.IntP("jobs", "j", 0, "parallel build jobs (default: number of CPUs)")
	pf.String("log-level", "info", "log level: debug, info, warn or error")
	pf.String("log-format", "text", "log format: text or json")
	pf.StringSlice("compiler-cmd", []string{"cc-service", "compile"}, "compiler service command prefix")
	pf.Duration("compiler-timeout", 15*time.Minute, "timeout per compiler invocation")

	root.AddCommand(newBuildCmd(o), newArchiveCmd(o), newScloneCmd(o))
	return root
}

// config assembles the app configuration from flags and environment. Units
// are the positional arguments of the invoked subcommand.
func (o *options) config(cmd *cobra.Command, units []string) (*app.Config, error) {
	flags := cmd.Flags()

	primary, err := flags.GetString("primary")
	if err != nil {
		return nil, err
	}
	dynamic, err := flags.GetStringSlice("dy")
	if err != nil {
		return nil, err
	}
	dynamic = append(dynamic, splitList(o.v.GetString(envDynamicImports))...)
	dynamic = append(dynamic, splitList(o.v.GetString(envDefaultDynamicImports))...)

	multitarget, err := flags.GetStringSlice("multitarget")
	if err != nil {
		return nil, err
	}
	if len(multitarget) == 0 {
		multitarget = splitList(o.v.GetString(envMultitarget))
	}

	jobs, err := flags.GetInt("jobs")
	if err != nil {
		return nil, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return nil, err
	}
	logFormat, err := flags.GetString("log-format")
	if err != nil {
		return nil, err
	}
	compilerArgv, err := flags.GetStringSlice("compiler-cmd")
	if err != nil {
		return nil, err
	}
	compilerTimeout, err := flags.GetDuration("compiler-timeout")
	if err != nil {
		return nil, err
	}
	force := false
	if flags.Lookup("force") != nil {
		if force, err = flags.GetBool("force"); err != nil {
			return nil, err
		}
	}

	return &app.Config{
		PrimaryDir:      primary,
		DynamicImports:  dedupe(dynamic),
		Multitarget:     multitarget,
		Units:           units,
		Jobs:            jobs,
		Force:           force,
		CompilerArgv:    compilerArgv,
		CompilerTimeout: compilerTimeout,
		LogLevel:        strings.ToLower(logLevel),
		LogFormat:       strings.ToLower(logFormat),
	}, nil
}

// splitList splits a comma-separated environment value, dropping empties.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func dedupe(list []string) []string {
	seen := make(map[string]bool, len(list))
	var out []string
	for _, v := range list {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
