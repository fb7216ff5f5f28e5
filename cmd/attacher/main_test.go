package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"

	attachin "attacher/internal/modules/attach/adapter/in"
	"attacher/internal/bootstrap"
	"attacher/internal/modules/attach/domain"
	"attacher/internal/platform/config"
)

var referencePlugin struct {
	binary   string
	sha256   string
	buildErr error
}

func TestMain(m *testing.M) {
	os.Exit(runTests(m))
}

func runTests(m *testing.M) int {
	dir, err := os.MkdirTemp("", "attacher-plugin")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer os.RemoveAll(dir)
	referencePlugin.buildErr = buildReferencePlugin(dir)
	return m.Run()
}

func buildReferencePlugin(dir string) error {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return fmt.Errorf("runtime caller failed")
	}
	binPath := filepath.Join(dir, "reference-controller")
	cmd := exec.Command("go", "build", "-o", binPath, "./plugins/reference")
	cmd.Dir = filepath.Clean(filepath.Join(filepath.Dir(file), "../.."))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("build reference plugin: %w\n%s", err, out)
	}
	payload, err := os.ReadFile(binPath)
	if err != nil {
		return fmt.Errorf("read built plugin: %w", err)
	}
	hash := sha256.Sum256(payload)
	referencePlugin.binary = binPath
	referencePlugin.sha256 = hex.EncodeToString(hash[:])
	return nil
}

// newHome creates an attacher home that registers the reference plugin and
// has config.yaml set to configYAML.
func newHome(t *testing.T, configYAML string) string {
	t.Helper()
	if referencePlugin.buildErr != nil {
		t.Skipf("reference plugin unavailable: %v", referencePlugin.buildErr)
	}
	home := t.TempDir()
	manifests := []domain.Manifest{{
		Name:         "reference",
		Version:      "1.0.0",
		Binary:       referencePlugin.binary,
		SHA256:       referencePlugin.sha256,
		Enabled:      true,
		Capabilities: []domain.Capability{domain.CapabilityAttach, domain.CapabilityLoadManaged},
	}}
	raw, err := json.Marshal(manifests)
	if err != nil {
		t.Fatalf("marshal manifests: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(home, "plugins"), 0o755); err != nil {
		t.Fatalf("mkdir plugins: %v", err)
	}
	if err := os.WriteFile(filepath.Join(home, "plugins", "plugins.json"), raw, 0o644); err != nil {
		t.Fatalf("write plugins.json: %v", err)
	}
	if configYAML != "" {
		if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(configYAML), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	t.Setenv(config.EnvHome, home)
	return home
}

// referenceArgs loads the plugin binary itself as the agent; the reference
// controller only checks that the agent path exists.
func referenceArgs() []string {
	return []string{"reference", strconv.Itoa(os.Getpid()), referencePlugin.binary, "false", "!a", "b"}
}

func TestRunSucceedsWithReferencePlugin(t *testing.T) {
	newHome(t, "")
	if code := run(context.Background(), referenceArgs()); code != attachin.ExitSuccess {
		t.Fatalf("expected exit %d, got %d", attachin.ExitSuccess, code)
	}
}

func TestRunIgnoresStartupFailures(t *testing.T) {
	cases := map[string]struct {
		configYAML string
		setup      func(t *testing.T, home string)
	}{
		"journal path is a directory": {
			configYAML: "journal: true\n",
			setup: func(t *testing.T, home string) {
				if err := os.MkdirAll(filepath.Join(home, "attacher.db"), 0o755); err != nil {
					t.Fatalf("mkdir: %v", err)
				}
			},
		},
		"log file is a directory": {
			configYAML: "log_file: logs/attacher.log\n",
			setup: func(t *testing.T, home string) {
				if err := os.MkdirAll(filepath.Join(home, "logs", "attacher.log"), 0o755); err != nil {
					t.Fatalf("mkdir: %v", err)
				}
			},
		},
		"invalid config file": {configYAML: "log_level: loud\n"},
		"unknown config field": {configYAML: "verbose: true\n"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			home := newHome(t, tc.configYAML)
			if tc.setup != nil {
				tc.setup(t, home)
			}
			if code := run(context.Background(), referenceArgs()); code != attachin.ExitSuccess {
				t.Fatalf("expected exit %d, got %d", attachin.ExitSuccess, code)
			}
		})
	}
}

func TestRunWithoutHomeUsesBuiltinControllers(t *testing.T) {
	t.Setenv(config.EnvHome, "")
	t.Setenv("HOME", "")
	t.Setenv("XDG_CONFIG_HOME", "")
	if _, err := config.Load(); err == nil {
		t.Skip("user config dir resolves without HOME on this platform")
	}
	// No home means no plugin manifests, so only the built-ins resolve.
	if code := run(context.Background(), referenceArgs()); code != attachin.ExitFailure {
		t.Fatalf("expected exit %d, got %d", attachin.ExitFailure, code)
	}
	if code := run(context.Background(), []string{bootstrap.ControllerHotSpot, "not-a-pid", "/agent.jar", "false"}); code != attachin.ExitFailure {
		t.Fatalf("expected exit %d, got %d", attachin.ExitFailure, code)
	}
}

func TestRunFailuresExitOne(t *testing.T) {
	t.Setenv(config.EnvHome, t.TempDir())
	cases := map[string][]string{
		"no arguments":       nil,
		"unknown controller": {"missing", "1", "/agent.jar", "false"},
		"invalid pid":        {bootstrap.ControllerHotSpot, "not-a-pid", "/agent.jar", "false"},
		"help flag":          {"--help"},
	}
	for name, args := range cases {
		if code := run(context.Background(), args); code != attachin.ExitFailure {
			t.Fatalf("%s: expected exit %d, got %d", name, attachin.ExitFailure, code)
		}
	}
}

func TestRunRecordsFailedRunInJournal(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("journal: true\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(config.EnvHome, home)
	if code := run(context.Background(), []string{"missing", "7", "/agent.jar", "true", "=opts"}); code != attachin.ExitFailure {
		t.Fatalf("expected exit %d, got %d", attachin.ExitFailure, code)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	app, err := bootstrap.New("attacher-test", cfg)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	defer app.Close()
	runs, err := app.AttachCLI.History(context.Background(), 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected one run, got %+v", runs)
	}
	got := runs[0]
	if got.ControllerType != "missing" || got.ProcessID != "7" || got.Mode != "native" || !got.HasArgument || got.Failure != "resolution" {
		t.Fatalf("unexpected run: %+v", got)
	}
}
