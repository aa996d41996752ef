// Package supervisor runs the process's long-lived services under a suture tree.
package supervisor

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"

	"roomchat/pkg/logging"
)

// TreeConfig tunes restart behaviour. Zero values fall back to suture's defaults.
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

func (c TreeConfig) withDefaults() TreeConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.FailureDecay == 0 {
		c.FailureDecay = 30
	}
	if c.FailureBackoff == 0 {
		c.FailureBackoff = 15 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}

// Tree has two layers: storage (the message persister) and api (the HTTP
// server). A crash in one layer is restarted without touching the other.
type Tree struct {
	root    *suture.Supervisor
	storage *suture.Supervisor
	api     *suture.Supervisor
}

func NewTree(cfg TreeConfig) *Tree {
	cfg = cfg.withDefaults()
	spec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	rootSpec := spec
	rootSpec.EventHook = logEvent

	t := &Tree{
		root:    suture.New("roomchat", rootSpec),
		storage: suture.New("storage-layer", spec),
		api:     suture.New("api-layer", spec),
	}
	t.root.Add(t.storage)
	t.root.Add(t.api)
	return t
}

func (t *Tree) AddStorageService(svc suture.Service) suture.ServiceToken { return t.storage.Add(svc) }
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken     { return t.api.Add(svc) }

// Serve blocks until ctx is canceled and every service has stopped.
func (t *Tree) Serve(ctx context.Context) error { return t.root.Serve(ctx) }

func (t *Tree) ServeBackground(ctx context.Context) <-chan error { return t.root.ServeBackground(ctx) }

func logEvent(ev suture.Event) {
	l := logging.Component("supervisor")
	e := l.Warn()
	switch ev.Type() {
	case suture.EventTypeServicePanic, suture.EventTypeStopTimeout:
		e = l.Error()
	case suture.EventTypeResume:
		e = l.Info()
	}
	e.Fields(ev.Map()).Msg("[supervisor] " + ev.String())
}
