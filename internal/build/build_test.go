package build

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/sassbridge/internal/presentation"
	"github.com/zjrosen/sassbridge/internal/protocol"
	"github.com/zjrosen/sassbridge/internal/pubsub"
)

type call struct {
	input  string
	output string
	forced bool
}

type fakeCompiler struct {
	mu      sync.Mutex
	calls   []call
	fresh   map[string]bool // inputs whose output is up to date
	failing map[string]error
}

func (f *fakeCompiler) CompileFileAndSave(_ context.Context, in, out string, _ protocol.Options) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{in, out, false})
	if err := f.failing[in]; err != nil {
		return false, err
	}
	return !f.fresh[in], nil
}

func (f *fakeCompiler) CompileFileTo(_ context.Context, in, out string, _ protocol.Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{in, out, true})
	return f.failing[in]
}

func (f *fakeCompiler) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

var targets = []Target{
	{Input: "/src/app.scss", Output: "/dist/app.css"},
	{Input: "/src/admin.scss", Output: "/dist/admin.css"},
}

func TestBuild_ReportsCompiledAndSkipped(t *testing.T) {
	fc := &fakeCompiler{fresh: map[string]bool{"/src/admin.scss": true}}
	b := New(fc, targets, protocol.Options{})

	results := b.Build(context.Background(), false)

	require.Len(t, results, 2)
	require.Equal(t, presentation.StatusCompiled, results[0].Status)
	require.Equal(t, presentation.StatusSkipped, results[1].Status)
	require.Equal(t, []call{
		{"/src/app.scss", "/dist/app.css", false},
		{"/src/admin.scss", "/dist/admin.css", false},
	}, fc.recorded())
}

func TestBuild_ForceRecompilesEverything(t *testing.T) {
	fc := &fakeCompiler{fresh: map[string]bool{"/src/app.scss": true, "/src/admin.scss": true}}
	b := New(fc, targets, protocol.Options{})

	results := b.Build(context.Background(), true)

	for _, r := range results {
		require.Equal(t, presentation.StatusCompiled, r.Status)
	}
	for _, c := range fc.recorded() {
		require.True(t, c.forced)
	}
}

func TestBuild_FailureIsReportedAndOthersContinue(t *testing.T) {
	fc := &fakeCompiler{failing: map[string]error{"/src/app.scss": errors.New("Sass parsing error: boom")}}
	b := New(fc, targets, protocol.Options{})

	results := b.Build(context.Background(), false)

	require.Equal(t, presentation.StatusFailed, results[0].Status)
	require.Equal(t, "Sass parsing error: boom", results[0].Error)
	require.Equal(t, presentation.StatusCompiled, results[1].Status)
}

func TestRebuild_EntryChangeOnlyTouchesItsTarget(t *testing.T) {
	fc := &fakeCompiler{}
	b := New(fc, targets, protocol.Options{})

	results := b.Rebuild(context.Background(), []string{"/src/admin.scss"})

	require.Len(t, results, 1)
	require.Equal(t, "/src/admin.scss", results[0].Input)
	require.Equal(t, []call{{"/src/admin.scss", "/dist/admin.css", false}}, fc.recorded())
}

func TestRebuild_PartialChangeForcesAllTargets(t *testing.T) {
	fc := &fakeCompiler{fresh: map[string]bool{"/src/app.scss": true, "/src/admin.scss": true}}
	b := New(fc, targets, protocol.Options{})

	results := b.Rebuild(context.Background(), []string{"/src/_variables.scss", "/src/app.scss"})

	require.Len(t, results, 2)
	require.Equal(t, []call{
		{"/src/app.scss", "/dist/app.css", true},
		{"/src/admin.scss", "/dist/admin.css", true},
	}, fc.recorded())
}

func TestBuilder_PublishesEvents(t *testing.T) {
	fc := &fakeCompiler{
		fresh:   map[string]bool{"/src/admin.scss": true},
		failing: map[string]error{},
	}
	b := New(fc, append(targets, Target{Input: "/src/bad.scss", Output: "/dist/bad.css"}), protocol.Options{})
	fc.failing["/src/bad.scss"] = errors.New("nope")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := b.Subscribe(ctx)

	b.Build(context.Background(), false)

	var types []pubsub.EventType
	for range 3 {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	require.Equal(t, []pubsub.EventType{pubsub.CompiledEvent, pubsub.SkippedEvent, pubsub.FailedEvent}, types)

	b.Close()
	_, ok := <-events
	require.False(t, ok, "subscription closes with the builder")
}

func TestBuilder_Outputs(t *testing.T) {
	b := New(&fakeCompiler{}, targets, protocol.Options{})
	require.Equal(t, []string{"/dist/app.css", "/dist/admin.css"}, b.Outputs())
}
