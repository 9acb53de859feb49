package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildBinary compiles the service into dir
func buildBinary(t *testing.T, dir string) string {
	t.Helper()
	binaryPath := filepath.Join(dir, "tudonav-test")
	buildCmd := exec.Command("go", "build", "-o", binaryPath, ".")
	output, err := buildCmd.CombinedOutput()
	require.NoError(t, err, "building binary:\n%s", output)
	return binaryPath
}

func integrationConfig(t *testing.T, dir string) string {
	t.Helper()
	building, err := filepath.Abs(fixturePath)
	require.NoError(t, err)

	configYAML := fmt.Sprintf(`mqtt:
  broker: "tcp://localhost:1883"
  publishPrefix: "tudonav-test"
  clientId: "tudonav-test"
  scanTopic: "tudonav-test/scan"
building:
  path: %q
http:
  listen: "127.0.0.1:18089"
`, building)

	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(configYAML), 0644))
	return configPath
}

// TestServiceStartupShutdown runs the built binary against a local broker
func TestServiceStartupShutdown(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") != "1" {
		t.Skip("Skipping integration test (set RUN_INTEGRATION_TESTS=1 to run)")
	}

	tmpDir := t.TempDir()
	configPath := integrationConfig(t, tmpDir)
	binaryPath := buildBinary(t, tmpDir)

	tests := []struct {
		name           string
		args           []string
		expectInOutput []string
		expectFailure  bool
		timeout        time.Duration
	}{
		{
			name: "mqtt and http",
			args: []string{"-mqtt", "-serve", "-config=" + configPath},
			expectInOutput: []string{
				"Starting tudonav service",
				"Service Running",
				"Scan topic:   tudonav-test/scan",
				"HTTP endpoints (127.0.0.1:18089)",
				"Press Ctrl+C to stop",
			},
			timeout: 5 * time.Second,
		},
		{
			name:           "missing config file",
			args:           []string{"-mqtt", "-config=nonexistent.yaml"},
			expectInOutput: []string{"config file not found"},
			expectFailure:  true,
			timeout:        2 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), tt.timeout)
			defer cancel()

			cmd := exec.CommandContext(ctx, binaryPath, tt.args...)
			output, err := cmd.CombinedOutput()
			outputStr := string(output)

			for _, expected := range tt.expectInOutput {
				assert.Contains(t, outputStr, expected)
			}
			if tt.expectFailure {
				assert.Error(t, err)
				assert.NoError(t, ctx.Err(), "process should exit before the timeout")
			}
		})
	}
}

// TestServiceSignalHandling checks that SIGINT shuts the service down cleanly
func TestServiceSignalHandling(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") != "1" {
		t.Skip("Skipping integration test (set RUN_INTEGRATION_TESTS=1 to run)")
	}

	tmpDir := t.TempDir()
	configPath := integrationConfig(t, tmpDir)
	binaryPath := buildBinary(t, tmpDir)

	var out strings.Builder
	cmd := exec.Command(binaryPath, "-mqtt", "-config="+configPath)
	cmd.Stdout = &out
	cmd.Stderr = &out
	require.NoError(t, cmd.Start())

	time.Sleep(2 * time.Second)
	require.NoError(t, cmd.Process.Signal(os.Interrupt))

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
		assert.Contains(t, out.String(), "Service stopped")
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
		t.Fatal("Service did not shut down within timeout")
	}
}
