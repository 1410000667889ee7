package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	zlog "github.com/rs/zerolog/log"
	"github.com/swdunlop/zugzug-go"

	"github.com/bundlepipe/bundlepipe/pipeline/watcher"
)

func init() {
	tasks = append(tasks, zugzug.Tasks{
		{Name: "test", Use: "Runs the test suite through the external test runner",
			Fn: runTest, Settings: checkSettings},
		{Name: "autotest", Use: "Reruns the test suite whenever sources or tests change",
			Fn: runAutotest, Settings: checkSettings},
		{Name: "lint", Use: "Runs the style checker over the application sources",
			Fn: runLint, Settings: checkSettings},
	}...)
}

var (
	testCmd  = `npx mocha`
	testGlob = `test/**/*.test.js`
	testDir  = `test`
	lintCmd  = `npx jshint`
)

var checkSettings = zugzug.Settings{
	{Var: &srcDir, Name: `SRC_DIR`, Use: "Application source root (default: \"app\")"},
	{Var: &testCmd, Name: `TEST_CMD`, Use: "Test runner command (default: \"npx mocha\")"},
	{Var: &testGlob, Name: `TEST_GLOB`, Use: "Glob of test files handed to the runner (default: \"test/**/*.test.js\")"},
	{Var: &testDir, Name: `TEST_DIR`, Use: "Test tree watched by autotest (default: \"test\")"},
	{Var: &lintCmd, Name: `LINT_CMD`, Use: "Style checker command (default: \"npx jshint\")"},
}

// lintOptions is the fixed configuration handed to the style checker: report
// unused variables, accept == null comparisons, and assume the shared library
// globals exist.
type lintOptions struct {
	Unused bool     `json:"unused"`
	EqNull bool     `json:"eqnull"`
	Predef []string `json:"predef"`
}

func runTest(ctx context.Context) error {
	cfg := buildConfig()
	if err := cfg.ExtendNodePath(); err != nil {
		return err
	}
	return runTool(ctx, testCmd, testGlob)
}

func runAutotest(ctx context.Context) error {
	cfg := buildConfig()
	if err := cfg.ExtendNodePath(); err != nil {
		return err
	}
	wr, err := watcher.Start(
		watcher.Directory(cfg.SourceRoot, testDir),
		watcher.Include(`**.js`),
		watcher.Debounce(300*time.Millisecond),
	)
	if err != nil {
		return err
	}
	defer wr.Shutdown()

	runOnce := func() {
		if err := runTool(ctx, testCmd, testGlob); err != nil {
			zlog.Warn().Err(err).Msg(`tests failed`)
		}
	}
	runOnce()
	for {
		select {
		case <-ctx.Done():
			return nil
		case path := <-wr.Alert():
			zlog.Info().Str(`path`, path).Msg(`change detected, rerunning tests`)
			runOnce()
		}
	}
}

func runLint(ctx context.Context) error {
	path, err := writeLintConfig(lintOptions{
		Unused: true,
		EqNull: true,
		Predef: []string{`$`, `jQuery`},
	})
	if err != nil {
		return err
	}
	defer os.Remove(path)
	return runTool(ctx, lintCmd, `--config`, path, srcDir)
}

func writeLintConfig(options lintOptions) (string, error) {
	js, err := json.Marshal(options)
	if err != nil {
		return ``, err
	}
	f, err := os.CreateTemp(``, `jshintrc-*.json`)
	if err != nil {
		return ``, err
	}
	if _, err := f.Write(js); err != nil {
		f.Close()
		os.Remove(f.Name())
		return ``, err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return ``, err
	}
	return f.Name(), nil
}

// runTool execs an external tool with our stdio so its report and exit code
// pass through untouched.
func runTool(ctx context.Context, command string, args ...string) error {
	words := strings.Fields(command)
	if len(words) == 0 {
		return errors.New(`no command configured`)
	}
	cmd := exec.CommandContext(ctx, words[0], append(words[1:], args...)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
