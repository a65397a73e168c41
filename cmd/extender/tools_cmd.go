package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/meganerd/extender/internal/cache"
	"github.com/meganerd/extender/internal/pods"
	"github.com/meganerd/extender/internal/process"
	"github.com/meganerd/extender/internal/vars"
)

func newMergeCmd() *cobra.Command {
	var diff bool
	cmd := &cobra.Command{
		Use:   "merge BASE.yml OVERLAY.yml",
		Short: "Merge two contexts the way manifests are merged",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := readContext(args[0])
			if err != nil {
				return err
			}
			overlay, err := readContext(args[1])
			if err != nil {
				return err
			}
			merged, err := vars.MergeContexts(base, overlay)
			if err != nil {
				return err
			}
			if !diff {
				fmt.Fprint(cmd.OutOrStdout(), merged.Dump())
				return nil
			}
			text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
				A:        difflib.SplitLines(base.Dump()),
				B:        difflib.SplitLines(merged.Dump()),
				FromFile: args[0],
				ToFile:   "merged",
				Context:  3,
			})
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().BoolVar(&diff, "diff", false, "print a unified diff of base against the merge")
	return cmd
}

func readContext(path string) (vars.Context, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c, err := vars.FromAny(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func newPodsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pods",
		Short: "CocoaPods helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "lock FILE",
		Short: "Print the install order of a Podfile.lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			lock, err := pods.ParseLockfile(data)
			if err != nil {
				return err
			}
			for _, name := range lock.InstallOrder() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rotate",
		Short: "Switch builds to a fresh CocoaPods cache dir and remove the old ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if cfg.PodsHome == "" {
				return fmt.Errorf("pods_home is not configured")
			}
			logger := newLogger(cfg)
			exec := process.NewExecutor(cfg.PodsHome, process.WithLogger(logger))
			dir := pods.NewCacheDir(cfg.PodsHome, pods.TrunkSetup(exec), logger)
			if err := dir.Load(cmd.Context()); err != nil {
				return err
			}
			if err := dir.Rotate(cmd.Context()); err != nil {
				return err
			}
			if err := dir.Cleanup(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dir.Snapshot())
			return nil
		},
	})
	return cmd
}

func newCacheCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Upload cache helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "key FILE",
		Short: "Print the cache key of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := cache.Key(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	})

	var dir string
	query := &cobra.Command{
		Use:   "query INFO.json",
		Short: "Mark which entries of a cache info document are stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				cfg, err := g.load()
				if err != nil {
					return err
				}
				dir = filepath.Join(cfg.CacheDir, cacheFilesDir)
			}
			store, err := cache.NewDiskStore(dir)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return cache.NewService(store).QueryCache(f, cmd.OutOrStdout())
		},
	}
	query.Flags().StringVar(&dir, "dir", "", "cache store dir (default: files below cache_dir)")
	cmd.AddCommand(query)
	return cmd
}
