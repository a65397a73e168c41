package pods

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	currentCacheFile = "current_pod_cache.txt"
	oldCachesFile    = "old_pod_caches.txt"
)

// SetupFunc prepares a freshly created cache dir, typically by adding the
// trunk spec repo.
type SetupFunc func(ctx context.Context, dir string) error

// CacheDir owns the CocoaPods home directory (CP_HOME_DIR) shared by all
// jobs. Jobs take a Snapshot and keep using it even if the dir is rotated
// underneath them; rotated dirs are only removed by Cleanup.
type CacheDir struct {
	prefix string
	setup  SetupFunc
	logger zerolog.Logger

	rotating sync.Mutex
	mu       sync.RWMutex
	current  string
}

// NewCacheDir returns a CacheDir creating its dirs under prefix. Call Load
// before use.
func NewCacheDir(prefix string, setup SetupFunc, logger zerolog.Logger) *CacheDir {
	return &CacheDir{
		prefix: prefix,
		setup:  setup,
		logger: logger.With().Str("component", "pod-cache").Logger(),
	}
}

// Load reuses the recorded cache dir when it still exists under the
// prefix, otherwise creates a new one. Dirs left over from earlier
// rotations are removed.
func (c *CacheDir) Load(ctx context.Context) error {
	if err := os.MkdirAll(c.prefix, 0o755); err != nil {
		return err
	}
	if dir := c.readCurrent(); dir != "" {
		c.mu.Lock()
		c.current = dir
		c.mu.Unlock()
		c.logger.Info().Str("dir", dir).Msg("reusing pod cache dir")
	} else {
		c.logger.Info().Msg("no current pod cache dir, creating one")
		dir, err := c.create()
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.current = dir
		err = c.storeCurrent(dir)
		c.mu.Unlock()
		if err != nil {
			return err
		}
		c.runSetup(ctx, dir)
	}
	return c.Cleanup()
}

// Snapshot returns the cache dir to use for one job.
func (c *CacheDir) Snapshot() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Rotate switches to a new, empty cache dir. The old one is recorded for
// Cleanup.
func (c *CacheDir) Rotate(ctx context.Context) error {
	c.rotating.Lock()
	defer c.rotating.Unlock()
	dir, err := c.create()
	if err != nil {
		return err
	}
	old := c.Snapshot()
	if old != "" {
		if err := c.appendOld(old); err != nil {
			c.logger.Warn().Err(err).Msg("recording old pod cache dir")
		}
	}
	c.mu.Lock()
	c.current = dir
	err = c.storeCurrent(dir)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.logger.Info().Str("old", old).Str("new", dir).Msg("rotated pod cache dir")
	c.runSetup(ctx, dir)
	return nil
}

// Cleanup removes every dir recorded by Rotate.
func (c *CacheDir) Cleanup() error {
	path := filepath.Join(c.prefix, oldCachesFile)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		dir := strings.TrimSpace(sc.Text())
		if dir == "" || dir == c.Snapshot() {
			continue
		}
		c.logger.Info().Str("dir", dir).Msg("removing old pod cache dir")
		if err := os.RemoveAll(dir); err != nil {
			c.logger.Warn().Err(err).Str("dir", dir).Msg("removing old pod cache dir")
		}
	}
	f.Close()
	if err := sc.Err(); err != nil {
		return err
	}
	return os.Remove(path)
}

func (c *CacheDir) create() (string, error) {
	dir := filepath.Join(c.prefix, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating pod cache dir: %w", err)
	}
	return dir, nil
}

func (c *CacheDir) runSetup(ctx context.Context, dir string) {
	if c.setup == nil {
		return
	}
	if err := c.setup(ctx, dir); err != nil {
		c.logger.Warn().Err(err).Str("dir", dir).Msg("initializing pod cache dir")
	}
}

func (c *CacheDir) readCurrent() string {
	data, err := os.ReadFile(filepath.Join(c.prefix, currentCacheFile))
	if err != nil {
		return ""
	}
	dir := strings.TrimSpace(string(data))
	if dir == "" || !strings.HasPrefix(dir, c.prefix) {
		return ""
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return ""
	}
	return dir
}

func (c *CacheDir) storeCurrent(dir string) error {
	return os.WriteFile(filepath.Join(c.prefix, currentCacheFile), []byte(dir), 0o644)
}

func (c *CacheDir) appendOld(dir string) error {
	f, err := os.OpenFile(filepath.Join(c.prefix, oldCachesFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(dir + "\n")
	return err
}
