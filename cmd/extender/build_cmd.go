package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/meganerd/extender/internal/cache"
	"github.com/meganerd/extender/internal/config"
	"github.com/meganerd/extender/internal/extender"
	"github.com/meganerd/extender/internal/gradle"
	"github.com/meganerd/extender/internal/job"
	"github.com/meganerd/extender/internal/pods"
	"github.com/meganerd/extender/internal/process"
	"github.com/meganerd/extender/internal/sdk"
)

// logFileName receives the toolchain log of a failed build.
const logFileName = "log.txt"

// cacheFilesDir holds the upload cache below the configured cache dir.
const cacheFilesDir = "files"

// jobFlags are shared by build and validate.
type jobFlags struct {
	platform string
	sdk      string
	upload   string
	out      string
	timeout  time.Duration
}

func (j *jobFlags) flagSet(withOutput bool) *pflag.FlagSet {
	fs := pflag.NewFlagSet("job", pflag.ContinueOnError)
	fs.StringVar(&j.platform, "platform", sdk.HostPlatform(runtime.GOOS, runtime.GOARCH), "target platform, e.g. arm64-android")
	fs.StringVar(&j.sdk, "sdk", "", "SDK dir or .tar.xz, absolute or relative to sdk_dir")
	fs.StringVar(&j.upload, "upload", ".", "dir holding the extensions and app manifest")
	if withOutput {
		fs.StringVar(&j.out, "out", "build", "dir receiving the build outputs")
		fs.DurationVar(&j.timeout, "timeout", 30*time.Minute, "total timeout for the build")
	}
	return fs
}

func (j *jobFlags) check() error {
	if j.sdk == "" {
		return fmt.Errorf("--sdk is required")
	}
	if _, err := os.Stat(j.upload); err != nil {
		return fmt.Errorf("upload dir: %w", err)
	}
	return nil
}

func newBuildCmd(g *globalFlags) *cobra.Command {
	j := &jobFlags{}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build an engine with the uploaded extensions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := j.check(); err != nil {
				return err
			}
			cfg, err := g.load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), j.timeout)
			defer cancel()
			return runBuild(ctx, cmd, cfg, j)
		},
	}
	cmd.Flags().AddFlagSet(j.flagSet(true))
	return cmd
}

func newValidateCmd(g *globalFlags) *cobra.Command {
	j := &jobFlags{}
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the uploaded manifests against the SDK whitelists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := j.check(); err != nil {
				return err
			}
			cfg, err := g.load()
			if err != nil {
				return err
			}
			s, err := openSDK(cfg, j.sdk)
			if err != nil {
				return err
			}
			buildDir, err := os.MkdirTemp("", "extender-validate-")
			if err != nil {
				return err
			}
			defer os.RemoveAll(buildDir)

			e, err := extender.New(extender.Options{
				Platform:  j.platform,
				SDK:       s,
				UploadDir: j.upload,
				BuildDir:  buildDir,
				Logger:    newLogger(cfg),
			})
			if err != nil {
				return err
			}
			if err := e.Validate(cmd.Context()); err != nil {
				return err
			}
			okColor.Fprint(cmd.OutOrStdout(), "VALID ")
			fmt.Fprintf(cmd.OutOrStdout(), "manifests for %s\n", j.platform)
			return nil
		},
	}
	cmd.Flags().AddFlagSet(j.flagSet(false))
	return cmd
}

// openSDK opens name as a path, or below the configured sdk dir.
func openSDK(cfg *config.Config, name string) (*sdk.SDK, error) {
	path := name
	if _, err := os.Stat(path); err != nil && !filepath.IsAbs(name) {
		path = filepath.Join(cfg.SDKDir, name)
	}
	return sdk.Open(path, filepath.Join(cfg.CacheDir, "sdk"))
}

func runBuild(ctx context.Context, cmd *cobra.Command, cfg *config.Config, j *jobFlags) error {
	logger := newLogger(cfg)
	env, err := cfg.Env()
	if err != nil {
		return err
	}
	s, err := openSDK(cfg, j.sdk)
	if err != nil {
		return err
	}

	store, err := cache.NewDiskStore(filepath.Join(cfg.CacheDir, cacheFilesDir))
	if err != nil {
		return err
	}
	files := cache.NewService(store,
		cache.WithThreshold(cfg.CacheFileSizeThreshold),
		cache.WithRetries(cfg.CacheRetries),
		cache.WithLogger(logger))

	if err := os.MkdirAll(cfg.BuildDir, 0o755); err != nil {
		return err
	}
	jobDir, err := os.MkdirTemp(cfg.BuildDir, "job-")
	if err != nil {
		return err
	}
	uploadDir := filepath.Join(jobDir, "upload")
	if _, err := extender.CopyTree(j.upload, uploadDir); err != nil {
		os.RemoveAll(jobDir)
		return fmt.Errorf("copying upload: %w", err)
	}
	restored, err := files.GetCachedFiles(uploadDir)
	if err != nil {
		os.RemoveAll(jobDir)
		return err
	}
	if restored > 0 {
		infoColor.Fprintf(cmd.ErrOrStderr(), "restored %d cached files\n", restored)
	}

	runner := job.NewRunner(cfg.MaxJobs, job.WithLogger(logger))
	infoColor.Fprintf(cmd.ErrOrStderr(), "building %s with %s\n", j.platform, s.Dir)
	id := runner.Submit(ctx, j.platform, func(ctx context.Context, id string, scope *job.Scope) (*job.Result, error) {
		scope.Defer("remove job dir", func() error { return os.RemoveAll(jobDir) })
		scope.Defer("cache uploads", func() error {
			n, err := files.CacheFiles(uploadDir)
			logger.Debug().Int64("bytes", n).Msg("cached uploaded files")
			return err
		})
		return buildJob(ctx, cfg, s, j, jobDir, env, logger.With().Str("job", id).Logger())
	})
	res, err := runner.Wait(ctx, id)
	runner.Close()
	if err != nil {
		return err
	}
	if res.Err != nil {
		failColor.Fprint(cmd.ErrOrStderr(), "BUILD FAILED ")
		fmt.Fprintf(cmd.ErrOrStderr(), "(see %s)\n", filepath.Join(j.out, logFileName))
		printDiagnostics(cmd, res.Err, jobDir)
		return res.Err
	}

	okColor.Fprint(cmd.OutOrStdout(), "BUILD OK ")
	fmt.Fprintf(cmd.OutOrStdout(), "%s in %s\n", j.platform, res.Finished.Sub(res.Started).Round(time.Millisecond))
	for _, o := range res.Result.Outputs {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", o)
	}
	sum := runner.Tracker().Summary()
	logger.Debug().Int("jobs", sum.TotalJobs).Int("failed", sum.Failed).Dur("total", sum.TotalDuration).Msg("job summary")
	return nil
}

func buildJob(ctx context.Context, cfg *config.Config, s *sdk.SDK, j *jobFlags, jobDir string,
	env map[string]string, logger zerolog.Logger) (*job.Result, error) {
	exec := process.NewExecutor(jobDir, process.WithLogger(logger), process.WithEnv(env))
	buildDir := filepath.Join(jobDir, "build")
	opts := extender.Options{
		Platform:    j.platform,
		SDK:         s,
		UploadDir:   filepath.Join(jobDir, "upload"),
		BuildDir:    buildDir,
		JobDir:      jobDir,
		Env:         env,
		Runner:      exec,
		Logger:      logger,
		CompileJobs: cfg.CompileJobs,
	}
	if _, err := pods.PodPlatform(j.platform); err == nil && cfg.PodsHome != "" {
		dir := pods.NewCacheDir(cfg.PodsHome, pods.TrunkSetup(exec), logger)
		if err := dir.Load(ctx); err != nil {
			return nil, err
		}
		opts.Pods = &pods.Resolver{Runner: exec, Cache: dir, Logger: logger}
	}
	if sdk.OS(j.platform) == "android" {
		svc, err := gradle.NewService(cfg.GradleHome, cfg.GradlePluginVersion, exec, logger)
		if err != nil {
			return nil, err
		}
		opts.Gradle = svc
	}

	e, err := extender.New(opts)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(j.out, 0o755); err != nil {
		return nil, err
	}
	res, err := e.Build(ctx)
	if err != nil {
		var be *extender.BuildError
		if errors.As(err, &be) {
			if werr := os.WriteFile(filepath.Join(j.out, logFileName), []byte(be.Log), 0o644); werr != nil {
				logger.Warn().Err(werr).Msg("could not write build log")
			}
		}
		return nil, err
	}

	var outputs []string
	for _, o := range res.Outputs {
		name := filepath.Base(o)
		if rel, err := filepath.Rel(buildDir, o); err == nil && !strings.HasPrefix(rel, "..") {
			name = rel
		}
		dst := filepath.Join(j.out, name)
		if err := extender.CopyFile(o, dst); err != nil {
			return nil, err
		}
		outputs = append(outputs, dst)
	}
	return &job.Result{Outputs: outputs, Log: res.Log}, nil
}

// printDiagnostics shows the compiler errors of a failed build, or the start
// of its log when none could be attributed to a file.
func printDiagnostics(cmd *cobra.Command, err error, jobDir string) {
	var be *extender.BuildError
	if !errors.As(err, &be) || be.Log == "" {
		return
	}
	diags := process.RelativeTo(be.Diagnostics(), jobDir)
	if len(diags) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), process.Summary(be.Log, 20))
		return
	}
	for _, d := range diags {
		fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", d)
	}
}
