package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gobwas/glob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldInclude(t *testing.T) {
	wr := &watcher{
		includes: []glob.Glob{glob.MustCompile(`**.js`, filepath.Separator)},
		excludes: []glob.Glob{glob.MustCompile(`**.min.js`, filepath.Separator)},
	}
	assert.True(t, wr.shouldInclude(filepath.Join(`app`, `checkout`, `main.js`)))
	assert.False(t, wr.shouldInclude(filepath.Join(`app`, `checkout`, `main.min.js`)),
		"excludes win over includes")
	assert.False(t, wr.shouldInclude(filepath.Join(`app`, `style.css`)))
}

func TestShouldIncludeDefaults(t *testing.T) {
	wr := &watcher{excludes: []glob.Glob{glob.MustCompile(`.*`, filepath.Separator)}}
	assert.True(t, wr.shouldInclude(`anything.txt`), "no includes means everything is included")
	assert.False(t, wr.shouldInclude(`.git`))
}

func TestWatcherAlertsOnWrite(t *testing.T) {
	dir := t.TempDir()
	wr, err := Start(
		Directory(dir),
		Include(`**.js`),
		Debounce(10*time.Millisecond),
	)
	require.NoError(t, err)
	defer wr.Shutdown()

	target := filepath.Join(dir, `main.js`)
	require.NoError(t, os.WriteFile(target, []byte("console.log(1);\n"), 0o644))

	select {
	case path := <-wr.Alert():
		assert.Equal(t, target, path)
	case <-time.After(3 * time.Second):
		t.Fatal(`no alert for a matching write`)
	}
}

func TestWatcherIgnoresNonMatchingWrites(t *testing.T) {
	dir := t.TempDir()
	wr, err := Start(Directory(dir), Include(`**.js`))
	require.NoError(t, err)
	defer wr.Shutdown()

	require.NoError(t, os.WriteFile(filepath.Join(dir, `notes.txt`), []byte(`x`), 0o644))

	select {
	case path := <-wr.Alert():
		t.Fatalf(`unexpected alert for %q`, path)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherSkipsMissingDirectories(t *testing.T) {
	dir := t.TempDir()
	wr, err := Start(Directory(dir, filepath.Join(dir, `no-such-tree`)))
	require.NoError(t, err, "a missing test tree must not fail the watch")
	wr.Shutdown()
}

func TestWatcherShutdownIsIdempotent(t *testing.T) {
	wr, err := Start(Directory(t.TempDir()))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		wr.Shutdown()
		wr.Shutdown() // a second call must return rather than hang or panic
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal(`shutdown did not complete`)
	}
}

func TestWatcherDebounceCoalesces(t *testing.T) {
	dir := t.TempDir()
	wr, err := Start(Directory(dir), Include(`**.js`), Debounce(150*time.Millisecond))
	require.NoError(t, err)
	defer wr.Shutdown()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, `burst.js`), []byte("x = 1;\n"), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-wr.Alert():
	case <-time.After(3 * time.Second):
		t.Fatal(`no alert for the save burst`)
	}
	select {
	case <-wr.Alert():
		t.Fatal(`the burst should coalesce into one alert`)
	case <-time.After(400 * time.Millisecond):
	}
}
