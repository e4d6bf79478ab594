package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildKeyrelay compiles cmd/keyrelay into a temp dir with an ldflags version.
func buildKeyrelay(t *testing.T) string {
	t.Helper()

	gomod, err := exec.Command("go", "env", "GOMOD").Output()
	require.NoError(t, err, "go env GOMOD")
	root := filepath.Dir(strings.TrimSpace(string(gomod)))
	require.NotEqual(t, ".", root, "go env GOMOD returned empty")

	binary := filepath.Join(t.TempDir(), "keyrelay")
	build := exec.Command("go", "build",
		"-ldflags", "-X main.version=0.0.0-it",
		"-o", binary, "./cmd/keyrelay")
	build.Dir = root
	build.Env = os.Environ()
	out, err := build.CombinedOutput()
	require.NoError(t, err, "go build: %s", out)
	return binary
}

func TestBinaryRunsOutsideRepo(t *testing.T) {
	if testing.Short() {
		t.Skip("builds the binary")
	}
	if runtime.GOOS == "windows" {
		t.Skip("exec test is unix-focused")
	}

	binary := buildKeyrelay(t)
	outside := t.TempDir()

	run := func(args ...string) (string, error) {
		c := exec.Command(binary, args...)
		c.Dir = outside
		c.Env = append(os.Environ(), "KEYRELAY_DB_PATH="+filepath.Join(outside, "relay.db"))
		out, err := c.CombinedOutput()
		return string(out), err
	}

	out, err := run("version")
	require.NoError(t, err, out)
	assert.Contains(t, out, "keyrelay 0.0.0-it")

	out, err = run("--help")
	require.NoError(t, err, out)
	for _, sub := range []string{"serve", "proxy", "credentials", "rate-limit", "usage"} {
		assert.Contains(t, out, sub)
	}

	out, err = run("proxy")
	require.Error(t, err, "proxy without --definition must fail")
	assert.Contains(t, out, "definition")
}
