package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robofit/arcor2-sub003/internal/events"
	"github.com/robofit/arcor2-sub003/internal/version"
)

type sceneService struct {
	mu       sync.Mutex
	requests []string
}

func (s *sceneService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/system/running":
		w.Write([]byte("false"))
	case "/collisions":
		w.Write([]byte("[]"))
	}
}

func (s *sceneService) saw(prefix string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if strings.HasPrefix(r, prefix) {
			return true
		}
	}
	return false
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const testScene = `{
  "id": "scn1",
  "name": "cell",
  "objects": [
    {"id": "box1", "name": "box", "type": "DummyBox",
     "pose": {"position": {"x": 1, "y": 0, "z": 0}, "orientation": {"x": 0, "y": 0, "z": 0, "w": 1}}},
    {"id": "logic", "name": "logic", "type": "LogicActions"}
  ]
}`

const testProject = `{
  "id": "prj1",
  "name": "demo",
  "scene_id": "scn1",
  "action_points": [{
    "id": "ap1", "name": "ap1", "position": {"x": 0, "y": 0, "z": 0},
    "actions": [
      {"id": "act1", "name": "compare", "type": "logic/equals",
       "parameters": [{"name": "val1", "type": "integer", "value": "3"},
                      {"name": "val2", "type": "integer", "value": "3"}]}
    ]
  }]
}`

const testBoxModel = `{"type": "Box", "box": {"id": "DummyBox", "size_x": 0.1, "size_y": 0.2, "size_z": 0.3}}`

// setup writes a package and a config pointing at a fake scene service.
func setup(t *testing.T, sceneJSON string) (dataDir, configPath string, svc *sceneService) {
	t.Helper()
	svc = &sceneService{}
	srv := httptest.NewServer(svc)
	t.Cleanup(srv.Close)

	dataDir = t.TempDir()
	writeFile(t, filepath.Join(dataDir, "scene.json"), sceneJSON)
	writeFile(t, filepath.Join(dataDir, "project.json"), testProject)
	writeFile(t, filepath.Join(dataDir, "models", "dummy_box.json"), testBoxModel)

	configPath = filepath.Join(t.TempDir(), "runtime.yaml")
	writeFile(t, configPath, `version: 1
package:
  id: pkg1
scene_service:
  url: `+srv.URL+`
runtime:
  streaming_period: 0s
control:
  stdin: false
`)
	return dataDir, configPath, svc
}

func execute(t *testing.T, args ...string) (stdout, stderr *bytes.Buffer, err error) {
	t.Helper()
	stdout, stderr = &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetIn(strings.NewReader(""))
	err = cmd.Execute()
	return stdout, stderr, err
}

func parseEvents(t *testing.T, out *bytes.Buffer) []events.Event {
	t.Helper()
	var evs []events.Event
	sc := bufio.NewScanner(out)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var e events.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e), sc.Text())
		evs = append(evs, e)
	}
	return evs
}

func names(evs []events.Event) []string {
	var out []string
	for _, e := range evs {
		out = append(out, e.Name)
	}
	return out
}

func TestRunPackage(t *testing.T) {
	dataDir, configPath, svc := setup(t, testScene)

	stdout, stderr, err := execute(t, "run", "--config", configPath, "--data-dir", dataDir, "--log-format", "json")
	require.NoError(t, err, stderr.String())

	evs := parseEvents(t, stdout)
	assert.Equal(t, []string{
		events.PackageState,
		events.PackageInfo,
		events.ActionStateBefore,
		events.ActionStateAfter,
		events.PackageState,
		events.PackageState,
	}, names(evs))

	var after events.ActionStateAfterData
	require.NoError(t, json.Unmarshal(evs[3].Data, &after))
	assert.Equal(t, "act1", after.ActionID)
	assert.Equal(t, []string{"true"}, after.Results)

	var last events.PackageStateData
	require.NoError(t, json.Unmarshal(evs[len(evs)-1].Data, &last))
	assert.Equal(t, "stopped", last.State)
	assert.Equal(t, "pkg1", last.PackageID)

	assert.True(t, svc.saw("PUT /collisions/box?"), "box collision registered")
	assert.True(t, svc.saw("PUT /system/stop"))
	assert.Contains(t, stderr.String(), `"msg":"package finished"`)
}

func TestRunPackageConstructionFailure(t *testing.T) {
	broken := strings.Replace(testScene, `"type": "LogicActions"`, `"type": "NoSuchType"`, 1)
	dataDir, configPath, _ := setup(t, broken)

	stdout, _, err := execute(t, "run", "--config", configPath, "--data-dir", dataDir)
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr), "got %v", err)
	assert.Equal(t, ExitFailure, exitErr.Code)

	evs := parseEvents(t, stdout)
	assert.Contains(t, names(evs), events.ProjectException)
	assert.NotContains(t, names(evs), events.ActionStateBefore)
}

func TestRunUnknownBreakpoint(t *testing.T) {
	dataDir, configPath, _ := setup(t, testScene)

	_, _, err := execute(t, "run", "--config", configPath, "--data-dir", dataDir, "--breakpoints", "nowhere")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "breakpoint on unknown action point nowhere")
}

func TestRunMissingPackage(t *testing.T) {
	_, configPath, _ := setup(t, testScene)

	_, _, err := execute(t, "run", "--config", configPath, "--data-dir", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load package")
}

func TestInvalidLogFormat(t *testing.T) {
	_, _, err := execute(t, "run", "--log-format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log format")
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), version.Version)
	assert.Contains(t, stdout.String(), version.APIVersion)
}

func TestLoadConfigOverrides(t *testing.T) {
	_, configPath, _ := setup(t, testScene)
	cmd := NewRunCommand(&RootOptions{LogLevel: "debug"})
	require.NoError(t, cmd.ParseFlags([]string{
		"--config", configPath, "--data-dir", "/pkg", "--start-paused", "--breakpoints", "ap1,ap2",
	}))

	opts := &RunOptions{RootOptions: &RootOptions{LogLevel: "debug"}}
	opts.ConfigPath = configPath
	opts.DataDir = "/pkg"
	opts.StartPaused = true
	opts.Breakpoints = []string{"ap1", "ap2"}

	cfg, err := loadConfig(cmd, opts)
	require.NoError(t, err)
	assert.Equal(t, "pkg1", cfg.Package.ID)
	assert.Equal(t, "/pkg", cfg.Package.DataDir)
	assert.True(t, cfg.Runtime.StartPaused)
	assert.Equal(t, []string{"ap1", "ap2"}, cfg.Runtime.Breakpoints)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger("warn", "json", &buf)
	l.Info("hidden")
	l.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"k":"v"`)
}
