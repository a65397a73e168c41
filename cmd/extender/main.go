// extender builds engines with native extensions from the command line and
// exposes the service's helper operations.
//
// Usage:
//
//	extender build --platform P --sdk DIR --upload DIR --out DIR
//	extender validate --platform P --sdk DIR --upload DIR
//	extender merge BASE.yml OVERLAY.yml [--diff]
//	extender pods lock FILE
//	extender pods rotate
//	extender cache key FILE
//	extender cache query INFO.json --dir STORE
//	extender version
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/meganerd/extender/internal/config"
)

var version = "dev"

const configName = "extender.yaml"

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	infoColor = color.New(color.FgCyan)
)

// globalFlags are shared by every command.
type globalFlags struct {
	config   string
	logLevel string
}

func (g *globalFlags) flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("global", pflag.ContinueOnError)
	fs.StringVar(&g.config, "config", "", "path to config file (default: ./"+configName+", then $HOME/"+configName+")")
	fs.StringVar(&g.logLevel, "log-level", "", "override the configured log level")
	return fs
}

// load reads the config file, or falls back to defaults and environment
// overrides when none exists.
func (g *globalFlags) load() (*config.Config, error) {
	path, err := findConfig(g.config)
	if err != nil {
		return nil, err
	}
	var cfg *config.Config
	if path == "" {
		cfg, err = config.Default()
	} else {
		cfg, err = config.LoadConfig(path)
	}
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(cfg.Level()).
		With().Timestamp().Logger()
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "extender",
		Short:         "extender - remote native extension build service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().AddFlagSet(g.flagSet())
	root.AddCommand(
		newBuildCmd(g),
		newValidateCmd(g),
		newMergeCmd(),
		newPodsCmd(g),
		newCacheCmd(g),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "extender %s\n", version)
			},
		},
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		failColor.Fprint(os.Stderr, "error: ")
		fmt.Fprintln(os.Stderr, friendlyError(err))
		os.Exit(1)
	}
}

func friendlyError(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "executable file not found"):
		return msg + "\n  hint: a toolchain command is missing, check the PATH and the env of the platform in build.yml"
	case strings.Contains(msg, "is not supported"):
		return msg + "\n  hint: the SDK has no entry for this platform in extender/build.yml"
	case strings.Contains(msg, "context deadline exceeded"):
		return msg + "\n  hint: the build timed out, raise --timeout"
	default:
		return msg
	}
}

// findConfig resolves the config file path. An explicit path is returned
// as-is. Otherwise extender.yaml is searched in the current directory, then
// $HOME. No file found means defaults only.
func findConfig(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if _, err := os.Stat(configName); err == nil {
		return configName, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", nil
	}
	p := filepath.Join(home, configName)
	if _, err := os.Stat(p); err == nil {
		return p, nil
	}
	return "", nil
}
