// Package rsyncd implements the read-only rsync daemon server: it drives
// internal/session.Codec per connection, resolves a requested module
// against internal/snapshot, and answers generator requests out of the
// module's precomputed snapshot. Unlike gokrazy/rsync's original rsyncd,
// there is no receiver side; every module is backed by an in-memory
// snapshot rebuilt out of band by internal/fsrepo.
package rsyncd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/gokrazy-rsync-snapshotd/rsyncd/internal/rsynclog"
	"github.com/gokrazy-rsync-snapshotd/rsyncd/internal/snapshot"
)

// protocolMajor and protocolMinor are the daemon's own announced version,
// written as the first bytes of every connection (spec.md §8 scenario 1
// uses 30.0 as its example).
const (
	protocolMajor = 30
	protocolMinor = 0
)

// Module pairs a snapshot.Module with the serving metadata the session
// handler needs but the snapshot package has no business knowing about:
// its ACL and the human-readable description shown in a #list reply.
type Module struct {
	Name        string
	Description string
	ACL         []string
	Snapshot    *snapshot.Module

	// ExtraArgs is applied ahead of every session's own ARGUMENTS tokens
	// for this module, mirroring rsyncdconfig.Module.ExtraArgsList().
	ExtraArgs []string
}

// Option specifies server options, mirroring the teacher's Option/
// serverOptionFunc pattern.
type Option interface {
	applyServer(*Server)
}

type serverOptionFunc func(server *Server)

func (f serverOptionFunc) applyServer(s *Server) {
	f(s)
}

// WithLogger specifies the logger to use for the server.
func WithLogger(logger rsynclog.Logger) Option {
	return serverOptionFunc(func(s *Server) {
		s.logger = logger
	})
}

// WithStderr builds a logrus-backed default logger around stderr.
// Explicitly use io.Discard if you do not want any log output.
func WithStderr(stderr io.Writer) Option {
	return serverOptionFunc(func(s *Server) {
		s.stderr = stderr
	})
}

// Server answers rsync daemon connections for a fixed set of modules.
type Server struct {
	stderr io.Writer
	logger rsynclog.Logger

	modules map[string]Module
}

// NewServer constructs a Server serving modules, keyed by Module.Name.
func NewServer(modules []Module, opts ...Option) (*Server, error) {
	byName := make(map[string]Module, len(modules))
	for _, mod := range modules {
		if err := validateModule(mod); err != nil {
			return nil, err
		}
		if _, dup := byName[mod.Name]; dup {
			return nil, fmt.Errorf("rsyncd: duplicate module name %q", mod.Name)
		}
		byName[mod.Name] = mod
	}

	server := &Server{modules: byName}
	for _, opt := range opts {
		opt.applyServer(server)
	}
	if server.stderr == nil {
		server.stderr = os.Stderr
	}
	if server.logger == nil {
		server.logger = rsynclog.New(server.stderr)
	}
	return server, nil
}

func validateModule(mod Module) error {
	if mod.Name == "" {
		return errors.New("rsyncd: module has no name")
	}
	if mod.Snapshot == nil {
		return fmt.Errorf("rsyncd: module %q has no snapshot", mod.Name)
	}
	return nil
}

func (s *Server) getModule(requestedModule string) (Module, error) {
	mod, ok := s.modules[requestedModule]
	if !ok {
		return Module{}, fmt.Errorf("no such module: %s", requestedModule)
	}
	return mod, nil
}

func (s *Server) formatModuleList() string {
	if len(s.modules) == 0 {
		return ""
	}
	var list strings.Builder
	for _, mod := range s.modules {
		fmt.Fprintf(&list, "%s\t%s\n", mod.Name, mod.Description)
	}
	return list.String()
}

// Serve accepts connections on every listener in lns until ctx is done,
// handling each listener's Accept loop in its own errgroup goroutine
// (the teacher's internal/maincmd starts its daemon/monitoring goroutines
// the same way). Serve returns once every listener's loop has returned.
func (s *Server) Serve(ctx context.Context, lns ...net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, ln := range lns {
		ln := ln
		g.Go(func() error {
			return s.serveOne(ctx, ln)
		})
	}
	return g.Wait()
}

func (s *Server) serveOne(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close() // unblocks Accept()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil // expected 'use of closed network connection' on shutdown
			default:
				return err
			}
		}
		remoteAddr := conn.RemoteAddr()
		go func() {
			defer conn.Close()
			if err := s.HandleDaemonConn(ctx, conn, remoteAddr); err != nil {
				s.logger.Printf("[%s] handle: %v", remoteAddr, err)
			}
		}()
	}
}
