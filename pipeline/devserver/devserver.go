// Package devserver serves the bundle output tree during autobuild and tells
// connected pages when a rebuild finished.  Pages subscribe to server sent
// events at /events and reload themselves when their bundle is named.
package devserver

import (
	"context"
	"net/http"

	"github.com/swdunlop/html-go/hog"
	sse "github.com/tmaxmax/go-sse"
)

// New returns a server that serves dir at addr.
func New(addr, dir string) *Server {
	return &Server{addr: addr, dir: dir, events: &sse.Server{}}
}

// A Server is the autobuild companion HTTP service.
type Server struct {
	addr   string
	dir    string
	events *sse.Server
}

// NotifyBuild publishes one event naming the rebuilt entry point.  Dropped
// events are fine; a page that reconnects reloads anyway.
func (s *Server) NotifyBuild(entry string) {
	msg := &sse.Message{}
	msg.AppendData(entry)
	_ = s.events.Publish(msg)
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	var mux http.ServeMux
	mux.Handle(`/events`, s.events)
	mux.Handle(`/`, http.FileServer(http.Dir(s.dir)))

	svr := http.Server{Addr: s.addr, Handler: &mux}
	go func() {
		<-ctx.Done()
		_ = s.events.Shutdown(context.Background())
		_ = svr.Shutdown(context.Background())
	}()

	hog.From(ctx).Info().Str(`address`, s.addr).Str(`dir`, s.dir).Msg(`serving bundles`)
	err := svr.ListenAndServe()
	hog.From(ctx).Info().Err(err).Msg(`bundle server stopped`)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
