package bundler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeApp lays out a minimal application under srcRoot and returns its entry
// point path.
func writeApp(t *testing.T, srcRoot, app string) string {
	t.Helper()
	dir := filepath.Join(srcRoot, app)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, `cart.js`),
		[]byte("export function total(items) {\n  return items.length;\n}\n"), 0o644))
	entry := filepath.Join(dir, `main.js`)
	require.NoError(t, os.WriteFile(entry,
		[]byte("import { total } from './cart.js';\nconsole.log(total([]));\n"), 0o644))
	return entry
}

func TestBuildProducesArtifactPair(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, `app`)
	out := filepath.Join(tmp, `public`, `bundles`)
	entry := writeApp(t, src, `checkout`)

	job, err := New(src, out, entry)
	require.NoError(t, err)
	require.NoError(t, job.Build())

	assert.Equal(t, filepath.Join(out, `checkout`, `main.js`), job.OutFile())
	assert.Equal(t, filepath.Join(out, `checkout`, `main.min.js`), job.MinFile())
	for _, path := range []string{
		job.OutFile(), job.OutFile() + `.map`,
		job.MinFile(), job.MinFile() + `.map`,
	} {
		assert.FileExists(t, path)
	}

	min, err := os.ReadFile(job.MinFile())
	require.NoError(t, err)
	assert.Contains(t, string(min), `sourceMappingURL=main.min.js.map`,
		"the minified artifact keeps a linked source map")

	debug, err := os.ReadFile(job.OutFile())
	require.NoError(t, err)
	assert.Contains(t, string(debug), `function total`, "the debug artifact keeps original names")
}

func TestBuildIsIdempotent(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, `app`)
	out := filepath.Join(tmp, `out`)
	entry := writeApp(t, src, `billing`)

	job, err := New(src, out, entry)
	require.NoError(t, err)
	require.NoError(t, job.Build())
	first, err := os.ReadFile(job.MinFile())
	require.NoError(t, err)

	require.NoError(t, job.Build())
	second, err := os.ReadFile(job.MinFile())
	require.NoError(t, err)
	assert.Equal(t, first, second, "rebuilding unchanged sources is byte-stable")
}

func TestBuildReportsSyntaxErrors(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, `app`)
	out := filepath.Join(tmp, `out`)
	dir := filepath.Join(src, `broken`)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	entry := filepath.Join(dir, `main.js`)
	require.NoError(t, os.WriteFile(entry, []byte("function (\n"), 0o644))

	job, err := New(src, out, entry)
	require.NoError(t, err)
	require.Error(t, job.Build())
	assert.NoFileExists(t, job.OutFile())
	assert.NoFileExists(t, job.MinFile())
}

func TestExternalLibrariesAreNotInlined(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, `app`)
	out := filepath.Join(tmp, `out`)
	dir := filepath.Join(src, `landing`)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	entry := filepath.Join(dir, `main.js`)
	require.NoError(t, os.WriteFile(entry,
		[]byte("import $ from 'jquery';\nconsole.log($);\n"), 0o644))

	// jquery does not exist anywhere under src; the build succeeds only
	// because the external marking skips resolving it.
	job, err := New(src, out, entry, External(`jquery`))
	require.NoError(t, err)
	require.NoError(t, job.Build())

	code, err := os.ReadFile(job.OutFile())
	require.NoError(t, err)
	assert.Contains(t, string(code), `"jquery"`, "the external stays a reference, not inlined code")
}

func TestWatchStartHookRunsBeforeWrite(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, `app`)
	out := filepath.Join(tmp, `out`)
	entry := writeApp(t, src, `watched`)

	job, err := New(src, out, entry)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sawArtifact := make(chan bool, 1)
	built := make(chan struct{}, 1)
	go func() {
		_ = job.Watch(ctx, func() {
			_, err := os.Stat(job.OutFile())
			select {
			case sawArtifact <- err == nil:
			default:
			}
		}, func(Result) {
			select {
			case built <- struct{}{}:
			default:
			}
		})
	}()

	select {
	case <-built:
	case <-time.After(10 * time.Second):
		t.Fatal(`initial watch build never completed`)
	}
	select {
	case existed := <-sawArtifact:
		assert.False(t, existed, "the start hook fires before the debug artifact reaches disk")
	default:
		t.Fatal(`start hook never ran`)
	}
}

func TestMinFileNamingKeepsExtension(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, `app`)
	entry := filepath.Join(src, `deep`, `nested`, `main.js`)
	require.NoError(t, os.MkdirAll(filepath.Dir(entry), 0o755))
	require.NoError(t, os.WriteFile(entry, []byte("console.log(1);\n"), 0o644))

	job, err := New(src, filepath.Join(tmp, `out`), entry)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(job.MinFile(), filepath.Join(`deep`, `nested`, `main.min.js`)))
	assert.Equal(t, `deep/nested/main.js`, job.Entry())
}
