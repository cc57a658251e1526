package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	configPath string
	modelsDir  string
	fetches    *atomic.Int32
}

func newFixture(t *testing.T, downloadMode string) fixture {
	t.Helper()

	fetches := &atomic.Int32{}
	registry := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		fmt.Fprintf(w, "weights for %s", r.URL.Path)
	}))
	t.Cleanup(registry.Close)

	dir := t.TempDir()
	modelsDir := filepath.Join(dir, "models")
	cfg := fmt.Sprintf(`
models_dir: %s
registry:
  url: %s
download:
  mode: %s
  poll_interval: 10ms
models:
  - name: tiny
    provider: local
    slug: tiny-llm
  - name: remote
    provider: openai
    model: gpt-4o-mini
    api_key: test
logger:
  level: error
`, modelsDir, registry.URL, downloadMode)

	path := filepath.Join(dir, "localmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))

	return fixture{configPath: path, modelsDir: modelsDir, fetches: fetches}
}

func (f fixture) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", f.configPath}, args...))

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPull_DownloadsOnce(t *testing.T) {
	f := newFixture(t, "default")

	out, err := f.execute(t, "pull", "tiny")
	require.NoError(t, err)
	assert.Contains(t, out, "tiny-llm: pulled to")

	data, err := os.ReadFile(filepath.Join(f.modelsDir, "tiny-llm"))
	require.NoError(t, err)
	assert.Equal(t, "weights for /tiny-llm", string(data))

	out, err = f.execute(t, "pull", "tiny-llm")
	require.NoError(t, err)
	assert.Contains(t, out, "tiny-llm: already present")
	assert.EqualValues(t, 1, f.fetches.Load())
}

func TestStatus_JSON(t *testing.T) {
	f := newFixture(t, "default")

	out, err := f.execute(t, "status", "--json")
	require.NoError(t, err)

	var statuses []modelStatus
	require.NoError(t, json.Unmarshal([]byte(out), &statuses))
	require.Len(t, statuses, 2)
	assert.Equal(t, "missing", statuses[0].State)
	assert.Equal(t, "remote", statuses[1].State)

	_, err = f.execute(t, "pull", "tiny")
	require.NoError(t, err)

	out, err = f.execute(t, "status", "--json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &statuses))
	assert.Equal(t, "present", statuses[0].State)
}

func TestStatus_Table(t *testing.T) {
	f := newFixture(t, "default")

	out, err := f.execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "tiny-llm")
}

func TestPrewarm_LoadsIntoStore(t *testing.T) {
	f := newFixture(t, "default")

	_, err := f.execute(t, "pull", "tiny")
	require.NoError(t, err)

	out, err := f.execute(t, "prewarm", "tiny")
	require.NoError(t, err)
	assert.Contains(t, out, "tiny-llm")
	assert.Contains(t, out, "ready")
}

func TestPrewarm_MissingWeightsWithoutWaiting(t *testing.T) {
	f := newFixture(t, "no-download")

	out, err := f.execute(t, "prewarm", "tiny")
	require.Error(t, err)
	assert.Contains(t, out, "failed")
}

func TestRun_StreamsCompletion(t *testing.T) {
	f := newFixture(t, "wait-for-download")

	out, err := f.execute(t, "run", "tiny", "hello")
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: hello\n", out)
	assert.EqualValues(t, 1, f.fetches.Load())
}

func TestRun_Instruction(t *testing.T) {
	f := newFixture(t, "wait-for-download")

	out, err := f.execute(t, "run", "tiny", "hello", "--instruction", "Greet")
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: Greet\n\nhello\n", out)
}

func TestRun_UnknownModel(t *testing.T) {
	f := newFixture(t, "default")

	_, err := f.execute(t, "run", "huge", "hello")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestLoadConfigError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logger:\n  level: loud\n"), 0o600))

	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", path, "status"})

	err := cmd.Execute()
	assert.ErrorContains(t, err, "config validation failed")
}
