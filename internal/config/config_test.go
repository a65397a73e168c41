package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

var testConfigYAML = []byte(`
sdk_dir: /opt/sdks
build_dir: /var/extender/jobs
cache_dir: /var/extender/cache
cache_file_size_threshold: 1024
gradle_home: /var/extender/gradle
pods_home: /var/extender/pods
env_files:
  - /etc/extender/android.env
max_jobs: 4
compile_jobs: 8
log_level: debug
`)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(testConfigYAML)
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if cfg.SDKDir != "/opt/sdks" {
		t.Errorf("want %q, got %q", "/opt/sdks", cfg.SDKDir)
	}
	if cfg.CacheFileSizeThreshold != 1024 {
		t.Errorf("want threshold 1024, got %d", cfg.CacheFileSizeThreshold)
	}
	if cfg.MaxJobs != 4 || cfg.CompileJobs != 8 {
		t.Errorf("want 4/8 jobs, got %d/%d", cfg.MaxJobs, cfg.CompileJobs)
	}
	if cfg.CacheRetries != 3 {
		t.Errorf("want default cache_retries 3, got %d", cfg.CacheRetries)
	}
	if !reflect.DeepEqual(cfg.EnvFiles, []string{"/etc/extender/android.env"}) {
		t.Errorf("unexpected env files %v", cfg.EnvFiles)
	}
	if cfg.Level() != zerolog.DebugLevel {
		t.Errorf("want debug level, got %v", cfg.Level())
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("EXTENDER_MAX_JOBS", "2")
	t.Setenv("EXTENDER_SDK_DIR", "/env/sdks")
	cfg, err := ParseConfig(testConfigYAML)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxJobs != 2 {
		t.Errorf("want max_jobs 2 from env, got %d", cfg.MaxJobs)
	}
	if cfg.SDKDir != "/env/sdks" {
		t.Errorf("want %q, got %q", "/env/sdks", cfg.SDKDir)
	}
}

func TestDefault(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CompileJobs != 1 {
		t.Errorf("want compile_jobs 1, got %d", cfg.CompileJobs)
	}
	if cfg.MaxJobs < 1 {
		t.Errorf("want positive max_jobs, got %d", cfg.MaxJobs)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"zero jobs", "max_jobs: 0", "max_jobs"},
		{"zero compile jobs", "compile_jobs: 0", "compile_jobs"},
		{"bad level", "log_level: loud", "log_level"},
		{"negative threshold", "cache_file_size_threshold: -1", "cache_file_size_threshold"},
		{"empty sdk", `sdk_dir: ""`, "sdk_dir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("want %q in %q", tt.want, err.Error())
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "extender.yaml")
	if err := os.WriteFile(p, testConfigYAML, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PodsHome != "/var/extender/pods" {
		t.Errorf("want %q, got %q", "/var/extender/pods", cfg.PodsHome)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("want error for missing file")
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.env")
	b := filepath.Join(dir, "b.env")
	if err := os.WriteFile(a, []byte("ANDROID_SDK_ROOT=/opt/android\nNDK_VERSION=r25\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("# override\nNDK_VERSION=r26\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := &Config{EnvFiles: []string{a, b}}
	env, err := cfg.Env()
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"ANDROID_SDK_ROOT": "/opt/android", "NDK_VERSION": "r26"}
	if !reflect.DeepEqual(env, want) {
		t.Errorf("want %v, got %v", want, env)
	}
	if got := EnvKeys(env); !reflect.DeepEqual(got, []string{"ANDROID_SDK_ROOT", "NDK_VERSION"}) {
		t.Errorf("unexpected keys %v", got)
	}
}
