package main

import (
	"context"
	"path/filepath"

	zlog "github.com/rs/zerolog/log"
	"github.com/swdunlop/zugzug-go"
	"github.com/swdunlop/zugzug-go/zug/parser"

	"github.com/bundlepipe/bundlepipe/pipeline"
	"github.com/bundlepipe/bundlepipe/pipeline/bundler"
	"github.com/bundlepipe/bundlepipe/pipeline/commonlib"
	"github.com/bundlepipe/bundlepipe/pipeline/devserver"
)

func init() {
	tasks = append(tasks, zugzug.Tasks{
		{Name: "build", Use: "Bundles every application entry point once and clears the dirty marker",
			Fn: runBuild, Settings: pathSettings},
		{Name: "autobuild", Use: "Rebuilds application bundles whenever their sources change",
			Fn: runAutobuild, Parser: parser.New(
				parser.String(&serveAddress, "serve", "s", "Also serve bundles and livereload events at this address"),
			), Settings: pathSettings},
		{Name: "build-common-lib", Use: "Packages the shared third-party libraries into one cacheable artifact",
			Fn: runBuildCommonLib, Settings: pathSettings},
	}...)
}

var (
	srcDir    = `app`
	entryGlob = `*/main.js`
	outDir    = `public/bundles`
	libDir    = `public/lib`
	dirtyFile = `.autobuild-dirty`

	serveAddress string
)

var pathSettings = zugzug.Settings{
	{Var: &srcDir, Name: `SRC_DIR`, Use: "Application source root (default: \"app\")"},
	{Var: &entryGlob, Name: `ENTRY_GLOB`, Use: "Entry point glob relative to the source root (default: \"*/main.js\")"},
	{Var: &outDir, Name: `OUT_DIR`, Use: "Output directory for application bundles (default: \"public/bundles\")"},
	{Var: &libDir, Name: `LIB_OUT_DIR`, Use: "Output directory for the shared library artifact (default: \"public/lib\")"},
	{Var: &dirtyFile, Name: `DIRTY_FILE`, Use: "Marker file recording uncommitted watch builds (default: \".autobuild-dirty\")"},
}

// commonLibraries are excluded from every application bundle and shipped once
// via build-common-lib instead.  The slice order is the concatenation order.
var commonLibraries = []commonlib.Library{
	{Name: `jquery`, Path: `vendor/jquery/jquery.js`},
	{Name: `underscore`, Path: `vendor/underscore/underscore.js`},
	{Name: `backbone`, Path: `vendor/backbone/backbone.js`},
	{Name: `moment`, Path: `vendor/moment/moment.js`},
}

func buildConfig() pipeline.Config {
	cfg := pipeline.Default()
	cfg.SourceRoot = srcDir
	cfg.EntryGlob = entryGlob
	cfg.OutDir = outDir
	cfg.LibDir = libDir
	cfg.DirtyFile = dirtyFile
	cfg.Libraries = commonLibraries
	return cfg
}

func runBuild(ctx context.Context) error {
	cfg := buildConfig()
	if err := cfg.ExtendNodePath(); err != nil {
		return err
	}
	return cfg.Build(ctx)
}

func runAutobuild(ctx context.Context) error {
	cfg := buildConfig()
	if err := cfg.ExtendNodePath(); err != nil {
		return err
	}
	var notify func(bundler.Result)
	if serveAddress != `` {
		svr := devserver.New(serveAddress, cfg.OutDir)
		go func() {
			if err := svr.Run(ctx); err != nil {
				zlog.Error().Err(err).Msg(`bundle server failed`)
			}
		}()
		notify = func(res bundler.Result) {
			if res.Errors == 0 {
				svr.NotifyBuild(res.Entry)
			}
		}
	}
	return cfg.Autobuild(ctx, notify)
}

func runBuildCommonLib(ctx context.Context) error {
	cfg := buildConfig()
	return commonlib.Pack(cfg.Libraries, filepath.Join(cfg.LibDir, `common.min.js`))
}
