// Package pipeline turns a directory of application entry points into
// browser-ready bundles.  It discovers entry points, drives per-entry bundler
// jobs either once or under a watch, and maintains the dirty marker that
// keeps watch-mode output from being committed.
package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	esbuild "github.com/evanw/esbuild/pkg/api"
	"github.com/gobwas/glob"
	zlog "github.com/rs/zerolog/log"

	"github.com/bundlepipe/bundlepipe/pipeline/bundler"
	"github.com/bundlepipe/bundlepipe/pipeline/commonlib"
	"github.com/bundlepipe/bundlepipe/pipeline/dirty"
)

// Config describes one repository's build pipeline.
type Config struct {
	SourceRoot string // application source tree, prepended to NODE_PATH
	EntryGlob  string // entry point glob relative to SourceRoot
	OutDir     string // per-application bundle tree
	LibDir     string // shared library artifact directory
	DirtyFile  string // marker recording uncommitted watch builds

	// Libraries are shipped once via commonlib and excluded by name from
	// every application bundle.  Order matters: it is the concatenation
	// order of the shared artifact.
	Libraries []commonlib.Library

	// Bundling is the fixed option list applied, in order, to every job.
	Bundling []bundler.Option
}

// Default returns a config with the conventional layout.
func Default() Config {
	return Config{
		SourceRoot: `app`,
		EntryGlob:  `*/main.js`,
		OutDir:     `public/bundles`,
		LibDir:     `public/lib`,
		DirtyFile:  `.autobuild-dirty`,
		Bundling:   []bundler.Option{bundler.Target(esbuild.ES2017)},
	}
}

// Flag returns the dirty flag shared by the build and autobuild tasks.
func (cfg *Config) Flag() dirty.Flag {
	return dirty.Flag{Path: cfg.DirtyFile}
}

// ExtendNodePath prepends the source root to NODE_PATH for this process and
// its children, so application code can resolve internal modules by short
// name and the test runner sees the same resolution rules as the bundler.
func (cfg *Config) ExtendNodePath() error {
	abs, err := filepath.Abs(cfg.SourceRoot)
	if err != nil {
		return err
	}
	path := os.Getenv(`NODE_PATH`)
	if path != `` {
		path = abs + string(os.PathListSeparator) + path
	} else {
		path = abs
	}
	return os.Setenv(`NODE_PATH`, path)
}

// Discover returns the entry point files under the source root matching the
// entry glob, sorted so every pass sees them in the same order.
func (cfg *Config) Discover() ([]string, error) {
	rx, err := glob.Compile(cfg.EntryGlob, '/')
	if err != nil {
		return nil, err
	}
	var entries []string
	err = filepath.WalkDir(cfg.SourceRoot, func(path string, info fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(cfg.SourceRoot, path)
		if err != nil {
			return err
		}
		if rx.Match(filepath.ToSlash(rel)) {
			entries = append(entries, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(entries)
	return entries, nil
}

func (cfg *Config) job(entry string) (*bundler.Job, error) {
	options := append([]bundler.Option(nil), cfg.Bundling...)
	if names := cfg.libraryNames(); len(names) > 0 {
		options = append(options, bundler.External(names...))
	}
	return bundler.New(cfg.SourceRoot, cfg.OutDir, entry, options...)
}

func (cfg *Config) libraryNames() []string {
	names := make([]string, 0, len(cfg.Libraries))
	for _, lib := range cfg.Libraries {
		names = append(names, lib.Name)
	}
	return names
}

// Build is the one-shot pass: it clears the dirty flag up front, then bundles
// every discovered entry point.  Clearing happens before the first bundle
// because starting a manual build is what invalidates "an uncommitted watch
// build exists", not finishing it.  A broken entry is logged and skipped so
// one application cannot block the others; Build only fails when the pass
// itself cannot run.
func (cfg *Config) Build(ctx context.Context) error {
	if err := cfg.Flag().Clear(); err != nil {
		return err
	}
	entries, err := cfg.Discover()
	if err != nil {
		return err
	}
	zlog.Info().Int(`entries`, len(entries)).Str(`out`, cfg.OutDir).Msg(`building bundles`)
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		job, err := cfg.job(entry)
		if err != nil {
			zlog.Error().Str(`entry`, entry).Err(err).Msg(`skipping entry`)
			continue
		}
		if err := job.Build(); err != nil {
			zlog.Error().Str(`entry`, job.Entry()).Err(err).Msg(`bundle failed`)
			continue
		}
		zlog.Info().Str(`entry`, job.Entry()).Msg(`bundled`)
	}
	return nil
}

// Autobuild keeps a watch-mode job alive per entry point and blocks until the
// context is cancelled.  Every rebuild, the initial one included, marks the
// dirty flag before esbuild writes anything: even a build that is killed
// mid-write must leave the flag behind, since whatever made it to disk embeds
// machine-specific paths.  The notify callback, when given, runs after each
// completed rebuild.
func (cfg *Config) Autobuild(ctx context.Context, notify func(bundler.Result)) error {
	flag := cfg.Flag()
	entries, err := cfg.Discover()
	if err != nil {
		return err
	}
	zlog.Info().Int(`entries`, len(entries)).Msg(`watching bundles`)
	var group sync.WaitGroup
	started := 0
	for _, entry := range entries {
		job, err := cfg.job(entry)
		if err != nil {
			zlog.Error().Str(`entry`, entry).Err(err).Msg(`skipping entry`)
			continue
		}
		started++
		group.Add(1)
		go func(job *bundler.Job) {
			defer group.Done()
			err := job.Watch(ctx, func() {
				if err := flag.Mark(); err != nil {
					zlog.Error().Err(err).Msg(`cannot mark dirty flag`)
				}
			}, func(res bundler.Result) {
				if res.Errors == 0 {
					zlog.Info().Str(`entry`, res.Entry).Msg(`rebuilt`)
				}
				if notify != nil {
					notify(res)
				}
			})
			if err != nil {
				zlog.Error().Str(`entry`, job.Entry()).Err(err).Msg(`watch failed`)
			}
		}(job)
	}
	if started == 0 {
		return errors.New(`autobuild: nothing to watch`)
	}
	group.Wait()
	return nil
}

// OutputPair returns the artifact paths Build produces for an entry point,
// mirroring its path relative to the source root.
func (cfg *Config) OutputPair(entry string) (out, min string, err error) {
	job, err := cfg.job(entry)
	if err != nil {
		return ``, ``, err
	}
	return job.OutFile(), job.MinFile(), nil
}
