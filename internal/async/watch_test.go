package async

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/internal/pipeline"
)

func next(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case p, ok := <-ch:
		require.True(t, ok, "watch channel closed")
		return p
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for watch event")
		return ""
	}
}

func TestWatch_InitialScanAndNewFiles(t *testing.T) {
	root := t.TempDir()
	existing := filepath.Join(root, "old.png")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	paths, _, err := Watch(ctx, WatchConfig{
		Roots:       []string{root},
		InitialScan: true,
		Debounce:    20 * time.Millisecond,
		SkipHidden:  true,
	}, quiet())
	require.NoError(t, err)

	assert.Equal(t, existing, next(t, paths))

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".hidden.png"), []byte("x"), 0o600))
	fresh := filepath.Join(root, "new.JPG")
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o600))
	assert.Equal(t, fresh, next(t, paths))

	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0o700))
	// give the watcher a moment to register the new directory
	time.Sleep(100 * time.Millisecond)
	nested := filepath.Join(sub, "deep.png")
	require.NoError(t, os.WriteFile(nested, []byte("x"), 0o600))
	assert.Equal(t, nested, next(t, paths))

	cancel()
	for range paths {
	}
}

func TestWatch_RequiresRoots(t *testing.T) {
	_, _, err := Watch(context.Background(), WatchConfig{}, quiet())
	require.Error(t, err)
}

func TestIntake_EnqueuesUntilClosed(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	q := NewProcessorQueue(runnerFunc(func(_ context.Context, in pipeline.Input) *pipeline.Outcome {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, in.Path+":"+in.DocType)
		return &pipeline.Outcome{State: pipeline.StageDone}
	}), quiet(), WithWorkers(1))

	paths := make(chan string, 2)
	paths <- "a.png"
	paths <- "b.png"
	close(paths)

	require.NoError(t, Intake(context.Background(), paths, q, "bills", quiet()))
	q.Shutdown(context.Background())
	assert.ElementsMatch(t, []string{"a.png:bills", "b.png:bills"}, seen)
}
