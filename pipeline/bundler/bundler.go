// Package bundler wraps esbuild jobs for one application entry point.  Each
// job produces a pair of artifacts mirroring the entry's path under the
// source root: an unminified bundle for debugging and a minified one for
// shipping, both with linked source maps.
package bundler

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
	zlog "github.com/rs/zerolog/log"
)

// A Job is a configured bundling job for a single entry point.  Construction
// never fails beyond path resolution; esbuild validates everything when the
// job runs.
type Job struct {
	entry  string // entry point path
	rel    string // entry path relative to the source root, slash separated
	outDir string
	build  esbuild.BuildOptions
}

// New configures a job for the given entry point.  Options are applied in
// order, so callers can pass a fixed transform list and rely on its sequence.
func New(srcRoot, outDir, entry string, options ...Option) (*Job, error) {
	rel, err := filepath.Rel(srcRoot, entry)
	if err != nil {
		return nil, fmt.Errorf(`bundler: %q is not under %q: %w`, entry, srcRoot, err)
	}
	job := &Job{entry: entry, rel: filepath.ToSlash(rel), outDir: outDir}
	job.build.EntryPoints = []string{entry}
	job.build.Bundle = true
	job.build.Write = true
	job.build.LogLevel = esbuild.LogLevelSilent // messages are reported through zerolog instead
	job.build.NodePaths = []string{srcRoot}
	for _, option := range options {
		option(job)
	}
	return job, nil
}

// An Option adjusts a job during construction.
type Option func(*Job)

// External marks library names as externally resolved: they are left out of
// the bundle and expected to be loaded via the shared library artifact.
func External(names ...string) Option {
	return func(job *Job) { job.build.External = append(job.build.External, names...) }
}

// Target sets the language level esbuild lowers the output to.
func Target(target esbuild.Target) Option {
	return func(job *Job) { job.build.Target = target }
}

// BuildOption exposes the underlying esbuild options for anything the named
// options do not cover.  See https://esbuild.github.io/api for details.
func BuildOption(fn func(*esbuild.BuildOptions)) Option {
	return func(job *Job) { fn(&job.build) }
}

// Entry returns the entry path relative to the source root.
func (job *Job) Entry() string { return job.rel }

// OutFile returns the path of the unminified artifact.
func (job *Job) OutFile() string {
	return filepath.Join(job.outDir, filepath.FromSlash(job.rel))
}

// MinFile returns the path of the minified artifact.
func (job *Job) MinFile() string {
	ext := filepath.Ext(job.rel)
	min := strings.TrimSuffix(job.rel, ext) + `.min` + ext
	return filepath.Join(job.outDir, filepath.FromSlash(min))
}

// Build runs the job once, writing both artifacts.  esbuild messages are
// logged per entry; the returned error summarizes them so callers can skip
// this entry and carry on with the rest.
func (job *Job) Build() error {
	debug := job.build
	debug.Outfile = job.OutFile()
	debug.Sourcemap = esbuild.SourceMapLinked
	ret := esbuild.Build(debug)
	job.report(ret.Errors, ret.Warnings)
	if len(ret.Errors) > 0 {
		return fmt.Errorf(`bundler: %s: %d errors`, job.rel, len(ret.Errors))
	}
	return job.minify()
}

// minify reruns the job with minification into the .min artifact.  The map is
// regenerated from the original sources rather than chained through the debug
// artifact, so minifying can never drop it.
func (job *Job) minify() error {
	min := job.build
	min.Outfile = job.MinFile()
	min.Sourcemap = esbuild.SourceMapLinked
	min.MinifyWhitespace = true
	min.MinifyIdentifiers = true
	min.MinifySyntax = true
	ret := esbuild.Build(min)
	job.report(ret.Errors, ret.Warnings)
	if len(ret.Errors) > 0 {
		return fmt.Errorf(`bundler: %s: minify: %d errors`, job.rel, len(ret.Errors))
	}
	return nil
}

// A Result summarizes one completed watch-mode rebuild.
type Result struct {
	Entry  string // entry path relative to the source root
	Errors int
}

// Watch keeps the job alive, incrementally rebuilding whenever esbuild
// notices a source change.  Every rebuild, the initial one included, invokes
// onStart before esbuild writes anything to disk and onBuild once it
// finishes, before the minified artifact is refreshed.  Watch blocks until
// the context is cancelled, then disposes the esbuild context, letting any
// in-flight write finish.
func (job *Job) Watch(ctx context.Context, onStart func(), onBuild func(Result)) error {
	debug := job.build
	debug.Outfile = job.OutFile()
	debug.Sourcemap = esbuild.SourceMapLinked
	debug.Plugins = append(debug.Plugins, esbuild.Plugin{
		Name: `rebundle`,
		Setup: func(pb esbuild.PluginBuild) {
			pb.OnStart(func() (esbuild.OnStartResult, error) {
				if onStart != nil {
					onStart()
				}
				return esbuild.OnStartResult{}, nil
			})
			pb.OnEnd(func(result *esbuild.BuildResult) (esbuild.OnEndResult, error) {
				job.report(result.Errors, result.Warnings)
				if onBuild != nil {
					onBuild(Result{Entry: job.rel, Errors: len(result.Errors)})
				}
				if len(result.Errors) == 0 {
					if err := job.minify(); err != nil {
						zlog.Error().Str(`entry`, job.rel).Err(err).Msg(`minify failed`)
					}
				}
				return esbuild.OnEndResult{}, nil
			})
		},
	})
	bctx, ctxErr := esbuild.Context(debug)
	if ctxErr != nil {
		job.report(ctxErr.Errors, nil)
		return fmt.Errorf(`bundler: %s: esbuild failed to start`, job.rel)
	}
	defer bctx.Dispose()
	if err := bctx.Watch(esbuild.WatchOptions{}); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (job *Job) report(errors, warnings []esbuild.Message) {
	for _, msg := range errors {
		evt := zlog.Error().Str(`entry`, job.rel)
		if msg.Location != nil {
			evt = evt.Str(`file`, msg.Location.File).Int(`line`, msg.Location.Line)
		}
		evt.Msg(msg.Text)
	}
	for _, msg := range warnings {
		evt := zlog.Warn().Str(`entry`, job.rel)
		if msg.Location != nil {
			evt = evt.Str(`file`, msg.Location.File).Int(`line`, msg.Location.Line)
		}
		evt.Msg(msg.Text)
	}
}
