package cli

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// captureStdout redirects os.Stdout to a pipe and returns a function
// that restores stdout and returns the captured output.
// Uses a goroutine to read concurrently, avoiding pipe buffer deadlocks.
func captureStdout(t *testing.T) func() string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w

	// Read concurrently to avoid pipe buffer deadlock on large outputs
	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		_, _ = buf.ReadFrom(r)
		close(done)
	}()

	return func() string {
		_ = w.Close()
		<-done
		os.Stdout = old
		return buf.String()
	}
}

// containsIgnoreCase checks if s contains substr (case-insensitive).
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// isolateEnv points HOME and the data directory at temp dirs and clears
// every setting the CLI reads, so no real config or cache is touched.
func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("UNQORK_DATA_DIR", t.TempDir())
	for _, key := range []string{
		"UNQORK_BASE_URL", "UNQORK_CLIENT_ID", "UNQORK_CLIENT_SECRET", "UNQORK_VERIFY_SSL",
		"UNQORK_MAX_CONCURRENT_DOWNLOADS", "UNQORK_TOKEN_REFRESH_BUFFER", "UNQORK_MALFORMED_TOLERANCE",
		"UNQORK_DOWNLOAD_RETRIES", "UNQORK_REQUESTS_PER_SECOND", "UNQORK_HTTP_TIMEOUT",
		"UNQORK_OUTPUT", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

// runCLI executes a fresh root command and returns what it printed to stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	stdout, _, err := runCLIWithInput(t, "", args...)
	return stdout, err
}

// runCLIWithInput executes a fresh root command with stdin set to input and
// returns stdout and stderr.
func runCLIWithInput(t *testing.T, input string, args ...string) (string, string, error) {
	t.Helper()
	rootCmd := newRootCmd()
	envFile := filepath.Join(t.TempDir(), "absent.env")
	rootCmd.SetArgs(append([]string{"--env-file", envFile}, args...))
	rootCmd.SetIn(strings.NewReader(input))
	var stderr bytes.Buffer
	rootCmd.SetErr(&stderr)
	rootCmd.SetOut(io.Discard)

	restore := captureStdout(t)
	err := rootCmd.Execute()
	return restore(), stderr.String(), err
}
