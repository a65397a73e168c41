package cache

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// CacheError is an infrastructure failure of the cache: a corrupt info
// file, an entry that is missing from the store or one that keeps failing
// its checksum.
type CacheError struct {
	Path string
	Key  string
	Msg  string
	Err  error
}

func (e *CacheError) Error() string {
	s := e.Msg
	if e.Path != "" || e.Key != "" {
		s = fmt.Sprintf("%s: '%s' (%s)", e.Msg, e.Path, e.Key)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *CacheError) Unwrap() error { return e.Err }

// Service uploads job files into a Store and restores them for later jobs.
type Service struct {
	store     Store
	threshold int64
	retries   int
	logger    zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithThreshold sets the minimum size of a file worth caching.
func WithThreshold(n int64) Option { return func(s *Service) { s.threshold = n } }

// WithRetries sets how many times a download failing its checksum is
// attempted before giving up.
func WithRetries(n int) Option { return func(s *Service) { s.retries = n } }

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l.With().Str("component", "cache").Logger() }
}

// NewService returns a Service backed by store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:   store,
		retries: 3,
		logger:  zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.retries < 1 {
		s.retries = 1
	}
	return s
}

// CacheFiles stores every regular file under dir at or above the size
// threshold, except the info file. It returns the number of bytes cached.
// Files that fail to upload are logged and skipped.
func (s *Service) CacheFiles(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || d.Name() == InfoFileName {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() < s.threshold {
			s.logger.Debug().Str("file", d.Name()).Msg("skipped")
			return nil
		}
		if err := s.upload(path); err != nil {
			s.logger.Error().Err(err).Str("file", path).Msg("could not cache file")
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return total, fmt.Errorf("caching %s: %w", dir, err)
	}
	return total, nil
}

func (s *Service) upload(path string) error {
	key, err := Key(path)
	if err != nil {
		return err
	}
	s.logger.Debug().Str("file", filepath.Base(path)).Str("key", key).Msg("caching")
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return s.store.Put(key, f)
}

func verifyEntry(e Entry) error {
	if strings.TrimSpace(e.Path) == "" {
		return &CacheError{Msg: "corrupt cache info file, missing 'path' field"}
	}
	if strings.TrimSpace(e.Key) == "" {
		return &CacheError{Msg: "corrupt cache info file, missing 'key' field"}
	}
	if !validKey(e.Key) {
		return &CacheError{Path: e.Path, Key: e.Key, Msg: "corrupt cache info file, 'key' is not a sha256 hex digest"}
	}
	return nil
}

// QueryCache reads a cache info file from r, marks each entry cached or
// not, and writes the result to w.
func (s *Service) QueryCache(r io.Reader, w io.Writer) error {
	info, err := ReadInfo(r)
	if err != nil {
		return &CacheError{Msg: "failed to parse cache info file", Err: firstLine(err)}
	}
	for i := range info.Files {
		e := &info.Files[i]
		if err := verifyEntry(*e); err != nil {
			return err
		}
		ok, err := s.store.Exists(e.Key)
		if err != nil {
			return &CacheError{Path: e.Path, Key: e.Key, Msg: "cache store unreachable", Err: err}
		}
		e.Cached = ok
	}
	if err := WriteInfo(w, info); err != nil {
		return &CacheError{Msg: "failed to write cache info file", Err: err}
	}
	return nil
}

// GetCachedFiles restores the entries marked cached in dir's info file
// into dir. A dir without an info file restores nothing.
func (s *Service) GetCachedFiles(dir string) (int, error) {
	f, err := os.Open(filepath.Join(dir, InfoFileName))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	info, err := ReadInfo(f)
	f.Close()
	if err != nil {
		return 0, &CacheError{Msg: "failed to parse cache info file", Err: firstLine(err)}
	}

	s.logger.Info().Msg("downloading cached files")
	n := 0
	for _, e := range info.Files {
		if !e.Cached {
			continue
		}
		if err := verifyEntry(e); err != nil {
			return n, err
		}
		dst, err := entryPath(dir, e.Path)
		if err != nil {
			return n, &CacheError{Path: e.Path, Key: e.Key, Msg: "invalid path", Err: err}
		}
		if err := s.restore(e, dst); err != nil {
			return n, err
		}
		n++
	}
	s.logger.Info().Int("files", n).Msg("downloaded cached files")
	return n, nil
}

// restore downloads e to dst, retrying while the checksum does not match.
func (s *Service) restore(e Entry, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	var last error
	for attempt := 1; attempt <= s.retries; attempt++ {
		if err := s.download(e.Key, dst); err != nil {
			return &CacheError{Path: e.Path, Key: e.Key, Msg: "failed downloading from cache", Err: err}
		}
		got, err := Key(dst)
		if err != nil {
			return &CacheError{Path: e.Path, Key: e.Key, Msg: "failed reading downloaded file", Err: err}
		}
		if got == e.Key {
			return nil
		}
		last = fmt.Errorf("checksum %s differs from key", got)
		s.logger.Warn().Str("path", e.Path).Int("attempt", attempt).Msg("checksum mismatch")
	}
	os.Remove(dst)
	return &CacheError{Path: e.Path, Key: e.Key, Msg: "checksum of the cached file differs", Err: last}
}

func (s *Service) download(key, dst string) error {
	rc, err := s.store.Get(key)
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func entryPath(dir, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute path %q", rel)
	}
	p := filepath.Join(dir, filepath.FromSlash(rel))
	r, err := filepath.Rel(dir, p)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes %s", rel, dir)
	}
	return p, nil
}

// firstLine drops the decoder's multi-line detail.
func firstLine(err error) error {
	msg := err.Error()
	if i := strings.IndexAny(msg, "\r\n"); i >= 0 {
		return fmt.Errorf("%s", msg[:i])
	}
	return err
}
