// Package watcher watches directory trees for source changes, driving the
// autotest loop.  Alerts are debounced so an editor save burst triggers one
// test run, not one per file.
package watcher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	zlog "github.com/rs/zerolog/log"
)

// Start a watcher with the provided options.
func Start(options ...Option) (Interface, error) {
	wr := &watcher{}
	for _, option := range options {
		err := option(wr)
		if err != nil {
			return nil, err
		}
	}
	err := wr.start()
	if err != nil {
		return nil, err
	}
	return wr, nil
}

// An Option is a function that can manipulate a watcher during construction.
type Option func(*watcher) error

// Include specifies one or more file patterns to include in the watch.
// If no patterns are specified, all files not starting with a dot are included.
func Include(patterns ...string) Option {
	return func(wr *watcher) (err error) {
		wr.includes, err = appendPatterns(wr.includes, patterns...)
		return
	}
}

// Exclude specifies one or more file patterns to exclude from the watch.
// If a file matches both an include and an exclude pattern, it is excluded.
func Exclude(patterns ...string) Option {
	return func(wr *watcher) (err error) {
		wr.excludes, err = appendPatterns(wr.excludes, patterns...)
		return
	}
}

// Directory specifies one or more directories to watch recursively.  A
// directory that does not exist is skipped rather than failing the watch,
// since a repository may legitimately lack a test tree.
func Directory(paths ...string) Option {
	return func(wr *watcher) error {
		wr.directories = append(wr.directories, paths...)
		return nil
	}
}

// Debounce coalesces changes arriving within the window into one alert
// carrying the last changed path.  Zero delivers every change immediately.
func Debounce(window time.Duration) Option {
	return func(wr *watcher) error {
		wr.debounce = window
		return nil
	}
}

func appendPatterns(seq []glob.Glob, patterns ...string) ([]glob.Glob, error) {
	for _, pattern := range patterns {
		rx, err := glob.Compile(pattern, filepath.Separator)
		if err != nil {
			return nil, fmt.Errorf(`%w in %q`, err, pattern)
		}
		seq = append(seq, rx)
	}
	return seq, nil
}

// Interface describes the watcher interface.
type Interface interface {
	Alert() <-chan string
	Shutdown()
}

type watcher struct {
	includes    []glob.Glob
	excludes    []glob.Glob
	directories []string
	debounce    time.Duration

	fsnotify   *fsnotify.Watcher
	alertCh    chan string   // carries the changed path
	shutdownCh chan struct{} // closed when the watcher should shut down
	doneCh     chan struct{} // closed when the watcher is done
	shutdown   sync.Once
}

func (wr *watcher) start() (err error) {
	wr.fsnotify, err = fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if len(wr.directories) == 0 {
		wr.directories = []string{`.`}
	}
	if len(wr.excludes) == 0 {
		wr.excludes = []glob.Glob{glob.MustCompile(`.*`, filepath.Separator)}
	}
	for _, dir := range wr.directories {
		if _, statErr := os.Stat(dir); statErr != nil {
			zlog.Debug().Str(`dir`, dir).Msg(`not watching missing directory`)
			continue
		}
		err := filepath.WalkDir(dir, func(path string, info fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return wr.fsnotify.Add(path)
			}
			return nil
		})
		if err != nil {
			wr.fsnotify.Close()
			return err
		}
	}
	wr.alertCh = make(chan string, 1)
	wr.shutdownCh = make(chan struct{})
	wr.doneCh = make(chan struct{})
	go wr.process()
	return nil
}

func (wr *watcher) Alert() <-chan string {
	return wr.alertCh
}

// Shutdown stops the watcher and waits for the fsnotify handle to close.
// Closing the channel rather than sending on it keeps a concurrent alert from
// swallowing the signal, and makes repeated calls harmless.
func (wr *watcher) Shutdown() {
	wr.shutdown.Do(func() { close(wr.shutdownCh) })
	<-wr.doneCh
}

func (wr *watcher) process() {
	var pending string
	var timer *time.Timer
	var timerCh <-chan time.Time
	for {
		select {
		case <-wr.shutdownCh:
			wr.fsnotify.Close()
			close(wr.doneCh)
			return
		case event := <-wr.fsnotify.Events:
			name, ok := wr.processNotification(event)
			if !ok {
				continue
			}
			if wr.debounce == 0 {
				wr.issueAlert(name)
				continue
			}
			pending = name
			if timer == nil {
				timer = time.NewTimer(wr.debounce)
				timerCh = timer.C
			} else {
				timer.Reset(wr.debounce)
			}
		case <-timerCh:
			wr.issueAlert(pending)
		}
	}
}

func (wr *watcher) processNotification(event fsnotify.Event) (string, bool) {
	if event.Has(fsnotify.Create) {
		info, err := os.Stat(event.Name)
		if err != nil {
			return ``, false
		}
		if info.IsDir() {
			wr.fsnotify.Add(event.Name)
			return ``, false // watch new directories, but do not alert on them
		}
	}

	switch {
	case event.Has(fsnotify.Write):
	case event.Has(fsnotify.Remove):
		_ = wr.fsnotify.Remove(event.Name)
	case event.Has(fsnotify.Rename):
	default:
		return ``, false
	}
	if !wr.shouldInclude(event.Name) {
		return ``, false
	}
	zlog.Debug().Str(`path`, event.Name).Str(`op`, event.Op.String()).Msg(`change observed`)
	return event.Name, true
}

func (wr *watcher) issueAlert(name string) {
	select {
	case <-wr.shutdownCh:
	case wr.alertCh <- name:
	default:
	}
}

func (wr *watcher) shouldInclude(name string) bool {
	included := len(wr.includes) == 0
	for _, rx := range wr.includes {
		if rx.Match(name) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, rx := range wr.excludes {
		if rx.Match(name) {
			return false
		}
	}
	return true
}
