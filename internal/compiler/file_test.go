package compiler

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/sassbridge/internal/protocol"
	"github.com/zjrosen/sassbridge/internal/worker"
)

// unreadableFs stats files normally but fails every open.
type unreadableFs struct {
	afero.Fs
}

func (fs unreadableFs) Open(name string) (afero.File, error) {
	return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
}

func TestCompileFile_NotFound(t *testing.T) {
	launcher := newFakeLauncher(nil, protocol.Limits{})
	c, _ := newTestClient(t, launcher)

	_, err := c.CompileFile(context.Background(), "/src/missing.scss", protocol.Options{})
	require.EqualError(t, err, "File not found: /src/missing.scss")
	require.True(t, IsKind(err, KindInput))
	require.ErrorIs(t, err, ErrFileNotFound)

	_, runs, _ := launcher.counts()
	require.Zero(t, runs)
}

func TestCompileFile_Unreadable(t *testing.T) {
	mem := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(mem, "/src/app.scss", []byte(scenarioSource), 0o644))
	c, _ := newTestClient(t, newFakeLauncher(nil, protocol.Limits{}), WithFs(unreadableFs{mem}))

	_, err := c.CompileFile(context.Background(), "/src/app.scss", protocol.Options{})
	require.EqualError(t, err, "Unable to read file: /src/app.scss")
	require.ErrorIs(t, err, ErrFileUnreadable)
	require.ErrorIs(t, err, os.ErrPermission)
	require.NotErrorIs(t, err, ErrFileNotFound)
}

func TestCompileFile_EmptyFileRunsNoProcess(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src/empty.scss", []byte("  \n"), 0o644))
	launcher := newFakeLauncher(nil, protocol.Limits{})
	c, _ := newTestClient(t, launcher, WithFs(fs))

	css, err := c.CompileFile(context.Background(), "/src/empty.scss", protocol.Options{})
	require.NoError(t, err)
	require.Equal(t, "", css)

	newProcesses, runs, _ := launcher.counts()
	require.Zero(t, newProcesses)
	require.Zero(t, runs)
}

func TestCompileFile_DefaultsURLToAbsoluteFileURL(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src/app.scss", []byte(scenarioSource), 0o644))
	launcher := newFakeLauncher(nil, protocol.Limits{})
	c, _ := newTestClient(t, launcher, WithFs(fs))

	css, err := c.CompileFile(context.Background(), "/src/app.scss", protocol.Options{})
	require.NoError(t, err)
	require.Equal(t, scenarioExpanded, css)

	req := launcher.lastRequest()
	require.Equal(t, "file:///src/app.scss", req.Options.URL)
	require.NotNil(t, req.URL)
	require.Equal(t, "file:///src/app.scss", *req.URL)
}

func TestCompileFile_KeepsExplicitURL(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src/app.scss", []byte(scenarioSource), 0o644))
	launcher := newFakeLauncher(nil, protocol.Limits{})
	c, _ := newTestClient(t, launcher, WithFs(fs))

	_, err := c.CompileFile(context.Background(), "/src/app.scss", protocol.Options{URL: "https://cdn.example.com/app.scss"})
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/app.scss", launcher.lastRequest().Options.URL)
}

func TestCompileFileAndSave_CompilesWhenOutputMissing(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src/app.scss", []byte(scenarioSource), 0o644))
	c, _ := newTestClient(t, newFakeLauncher(nil, protocol.Limits{}), WithFs(fs))

	changed, err := c.CompileFileAndSave(context.Background(), "/src/app.scss", "/dist/app.css", protocol.Options{})
	require.NoError(t, err)
	require.True(t, changed)

	data, err := afero.ReadFile(fs, "/dist/app.css")
	require.NoError(t, err)
	require.Equal(t, scenarioExpanded, string(data))
}

func TestCompileFileAndSave_SkipsWhenOutputIsNewer(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src/app.scss", []byte(scenarioSource), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/dist/app.css", []byte("stale"), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, fs.Chtimes("/src/app.scss", past, past))

	launcher := newFakeLauncher(nil, protocol.Limits{})
	c, _ := newTestClient(t, launcher, WithFs(fs))

	changed, err := c.CompileFileAndSave(context.Background(), "/src/app.scss", "/dist/app.css", protocol.Options{})
	require.NoError(t, err)
	require.False(t, changed)

	data, err := afero.ReadFile(fs, "/dist/app.css")
	require.NoError(t, err)
	require.Equal(t, "stale", string(data))
	_, runs, _ := launcher.counts()
	require.Zero(t, runs)
}

func TestCompileFileAndSave_RecompilesWhenInputIsNewer(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/dist/app.css", []byte("stale"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/src/app.scss", []byte(scenarioSource), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, fs.Chtimes("/dist/app.css", past, past))

	c, _ := newTestClient(t, newFakeLauncher(nil, protocol.Limits{}), WithFs(fs))

	changed, err := c.CompileFileAndSave(context.Background(), "/src/app.scss", "/dist/app.css", protocol.Options{})
	require.NoError(t, err)
	require.True(t, changed)

	data, err := afero.ReadFile(fs, "/dist/app.css")
	require.NoError(t, err)
	require.Equal(t, scenarioExpanded, string(data))
}

func TestCompileFileAndSave_MapLandsBesideOutput(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src/app.scss", []byte(scenarioSource), 0o644))
	c, _ := newTestClient(t, newFakeLauncher(nil, protocol.Limits{}), WithFs(fs))

	changed, err := c.CompileFileAndSave(context.Background(), "/src/app.scss", "/dist/app.css", protocol.Options{SourceMap: protocol.Bool(true)})
	require.NoError(t, err)
	require.True(t, changed)

	css, err := afero.ReadFile(fs, "/dist/app.css")
	require.NoError(t, err)
	require.Equal(t, scenarioExpanded+"\n/*# sourceMappingURL=app.css.map */", string(css))

	raw, err := afero.ReadFile(fs, "/dist/app.css.map")
	require.NoError(t, err)
	require.Contains(t, string(raw), `"sources":["file:///src/app.scss"]`)
}

func TestCompileFileAndSave_MissingInput(t *testing.T) {
	c, _ := newTestClient(t, newFakeLauncher(nil, protocol.Limits{}))

	_, err := c.CompileFileAndSave(context.Background(), "/src/nope.scss", "/dist/nope.css", protocol.Options{})
	require.EqualError(t, err, "Source file not found: /src/nope.scss")
	require.True(t, IsKind(err, KindInput))
}

func TestCompileFileAndSave_WriteFailure(t *testing.T) {
	mem := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(mem, "/src/app.scss", []byte(scenarioSource), 0o644))
	c, _ := newTestClient(t, newFakeLauncher(nil, protocol.Limits{}), WithFs(afero.NewReadOnlyFs(mem)))

	_, err := c.CompileFileAndSave(context.Background(), "/src/app.scss", "/dist/app.css", protocol.Options{})
	require.True(t, IsKind(err, KindOutput), "got %v", err)
}

func TestCompileFileTo_IgnoresModificationTimes(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src/app.scss", []byte(scenarioSource), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/dist/app.css", []byte("stale"), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, fs.Chtimes("/src/app.scss", past, past))

	c, _ := newTestClient(t, newFakeLauncher(nil, protocol.Limits{}), WithFs(fs))

	require.NoError(t, c.CompileFileTo(context.Background(), "/src/app.scss", "/dist/app.css", protocol.Options{}))

	data, err := afero.ReadFile(fs, "/dist/app.css")
	require.NoError(t, err)
	require.Equal(t, scenarioExpanded, string(data))
}

func TestCompileFileTo_MissingInput(t *testing.T) {
	c, _ := newTestClient(t, newFakeLauncher(nil, protocol.Limits{}))

	err := c.CompileFileTo(context.Background(), "/src/nope.scss", "/dist/nope.css", protocol.Options{})
	require.EqualError(t, err, "Source file not found: /src/nope.scss")
}

func TestCompileFile_PartialChangeBypassesResponseCache(t *testing.T) {
	// The backend stands in for an @use of a partial whose content the
	// request payload never sees.
	var partial atomic.Value
	partial.Store("red")
	backend := worker.BackendFunc(func(_ context.Context, _ string, _ worker.NativeOptions) (worker.Result, error) {
		return worker.Result{CSS: "a{color:" + partial.Load().(string) + "}"}, nil
	})

	fs := newMemFs(t, map[string]string{"/app.scss": "@use 'colors';\na { color: colors.$primary; }\n"})
	cache := NewResponseCache(0)
	launcher := newFakeLauncher(backend, protocol.Limits{})
	c, _ := newTestClient(t, launcher, WithFs(fs), WithResponseCache(cache, 0))
	ctx := context.Background()

	require.NoError(t, c.CompileFileTo(ctx, "/app.scss", "/app.css", protocol.Options{}))
	partial.Store("blue")
	require.NoError(t, c.CompileFileTo(ctx, "/app.scss", "/app.css", protocol.Options{}))

	data, err := afero.ReadFile(fs, "/app.css")
	require.NoError(t, err)
	require.Equal(t, "a{color:blue}", string(data))

	css, err := c.CompileFile(ctx, "/app.scss", protocol.Options{})
	require.NoError(t, err)
	require.Equal(t, "a{color:blue}", css)

	_, runs, _ := launcher.counts()
	require.Equal(t, 3, runs)
	require.Zero(t, cache.ItemCount())
}
