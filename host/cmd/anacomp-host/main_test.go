package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(t.TempDir(), "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(t.TempDir(), "data"))

	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	if errOut.Len() > 0 {
		t.Logf("stderr:\n%s", errOut.String())
	}
	return out.String(), err
}

func TestStateAgainstSimulator(t *testing.T) {
	out, err := runCLI(t, "--sim", "--no-store", "state")
	if err != nil {
		t.Fatalf("state failed: %v", err)
	}
	if !strings.Contains(out, "state=uninitialized") {
		t.Errorf("Expected uninitialized state, got %q", out)
	}
}

func TestConfigureAgainstSimulator(t *testing.T) {
	out, err := runCLI(t, "--sim", "--no-store", "configure", "--positive", "bandgap", "--negative", "4")
	if err != nil {
		t.Fatalf("configure failed: %v", err)
	}
	for _, want := range []string{"state=configured", "positive=bandgap", "negative=adc4", "adc_saved=true"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in %q", want, out)
		}
	}
}

func TestConfigureRejectsBadInput(t *testing.T) {
	if _, err := runCLI(t, "--sim", "--no-store", "configure", "--negative", "x"); err == nil {
		t.Error("Expected error for unknown negative input")
	}
}

func TestWaitRecordsResult(t *testing.T) {
	db := filepath.Join(t.TempDir(), "events.db")
	out, err := runCLI(t, "--sim", "--db", db, "wait", "--timeout-ms", "50")
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if !strings.HasPrefix(out, "timeout clock=") {
		t.Errorf("Expected timeout result, got %q", out)
	}
}

func TestMonitorThenEvents(t *testing.T) {
	db := filepath.Join(t.TempDir(), "events.db")
	out, err := runCLI(t, "--sim", "--sim-period", "10ms", "--db", db,
		"monitor", "--edge", "toggle", "--duration", "300ms")
	if err != nil {
		t.Fatalf("monitor failed: %v", err)
	}
	if !strings.Contains(out, "count=") {
		t.Fatalf("Expected monitor to print events, got %q", out)
	}

	out, err = runCLI(t, "--db", db, "events", "--limit", "5")
	if err != nil {
		t.Fatalf("events failed: %v", err)
	}
	if !strings.Contains(out, "edge=toggle") {
		t.Errorf("Expected stored toggle events, got %q", out)
	}
	if n := strings.Count(out, "\n"); n == 0 || n > 5 {
		t.Errorf("Expected 1..5 events listed, got %d", n)
	}
}

func TestDictAgainstSimulator(t *testing.T) {
	out, err := runCLI(t, "--sim", "--no-store", "dict")
	if err != nil {
		t.Fatalf("dict failed: %v", err)
	}
	for _, want := range []string{"version: anacomp-", "MCU = sim", "analog_comp_wait timeout=%u", "analog_comp_edge: 3 values"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in dictionary output", want)
		}
	}
}

func TestConfigCommandWritesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anacomp", "config.toml")
	out, err := runCLI(t, "--config", path, "config")
	if err != nil {
		t.Fatalf("config failed: %v", err)
	}
	if strings.TrimSpace(out) != path {
		t.Errorf("Expected path %s, got %q", path, out)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected config file written: %v", err)
	}
	if !strings.Contains(string(data), "[comparator]") {
		t.Error("Expected template to contain [comparator]")
	}
}

func TestConfigFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := "[comparator]\nnegative = \"2\"\n[log]\nlevel = \"loud\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, "--config", path, "--sim", "--no-store", "state"); err == nil {
		t.Error("Expected invalid log level from config to fail")
	}
	if _, err := runCLI(t, "--config", path, "--log-level", "warn", "--sim", "--no-store", "state"); err != nil {
		t.Errorf("Expected flag to override config, got %v", err)
	}
}

func TestApplyConfigRespectsFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "x"}
	var target string
	cmd.Flags().StringVar(&target, "device", "default", "")
	if err := cmd.Flags().Set("device", "/dev/flag"); err != nil {
		t.Fatal(err)
	}

	fromFile := "/dev/file"
	applyStringConfig(cmd, "device", &target, &fromFile)
	if target != "/dev/flag" {
		t.Errorf("Expected flag value kept, got %s", target)
	}

	var other int
	cmd.Flags().IntVar(&other, "baud", 9600, "")
	fileBaud := 115200
	applyIntConfig(cmd, "baud", &other, &fileBaud)
	if other != 115200 {
		t.Errorf("Expected config value applied, got %d", other)
	}

	var missing bool
	on := true
	applyBoolConfig(cmd, "redirect", &missing, &on)
	if missing {
		t.Error("Expected unknown flag to be skipped")
	}
}

func TestMCUDebugFlag(t *testing.T) {
	out, err := runCLI(t, "--sim", "--no-store", "--mcu-debug", "configure", "--negative", "pin")
	if err != nil {
		t.Fatalf("configure with --mcu-debug failed: %v", err)
	}
	if !strings.Contains(out, "state=configured") {
		t.Errorf("Expected configured state, got %q", out)
	}
}
