// Command rsyncd-snapshotd serves a read-only rsync daemon whose modules
// are backed by an in-memory snapshot of a content repository on disk,
// rebuilt periodically rather than served live off the filesystem.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/DavidGamba/go-getoptions"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	// For profiling and debugging.
	_ "net/http/pprof"

	"github.com/gokrazy-rsync-snapshotd/rsyncd/internal/fsrepo"
	"github.com/gokrazy-rsync-snapshotd/rsyncd/internal/privdrop"
	"github.com/gokrazy-rsync-snapshotd/rsyncd/internal/rsynclog"
	"github.com/gokrazy-rsync-snapshotd/rsyncd/internal/rsyncdconfig"
	"github.com/gokrazy-rsync-snapshotd/rsyncd/internal/snapshot"
	"github.com/gokrazy-rsync-snapshotd/rsyncd/rsyncd"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "rsyncd-snapshotd: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opt := getoptions.New()
	configPath := opt.String("config", "/etc/rsyncd-snapshotd.toml")
	monitoringListen := opt.String("monitoring_listen", "")
	dontRestrict := opt.Bool("insecure_dont_restrict", false)
	opt.Bool("help", false)
	if _, err := opt.Parse(args); err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}

	cfg, err := rsyncdconfig.Load(*configPath)
	if err != nil {
		return err
	}

	logger := rsynclog.New(os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	var modules []rsyncd.Module
	var modulePaths []string
	for _, modCfg := range cfg.Modules {
		refresh, err := modCfg.RefreshInterval()
		if err != nil {
			return err
		}
		extraArgs, err := modCfg.ExtraArgsList()
		if err != nil {
			return err
		}
		modLogger := rsynclog.WithFields(logger, map[string]interface{}{"module": modCfg.Name})
		repo := fsrepo.New(modCfg.Name, modCfg.Path, refresh, modLogger)
		snap := snapshot.NewModule(modCfg.Name, modCfg.Description, repo)

		modules = append(modules, rsyncd.Module{
			Name:        modCfg.Name,
			Description: modCfg.Description,
			ACL:         modCfg.ACL,
			Snapshot:    snap,
			ExtraArgs:   extraArgs,
		})
		modulePaths = append(modulePaths, modCfg.Path)

		g.Go(func() error {
			if err := repo.Run(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("module %q: %w", modCfg.Name, err)
			}
			return nil
		})
	}

	if !*dontRestrict {
		if err := rsyncd.RestrictToModulePaths(modulePaths); err != nil {
			return fmt.Errorf("restricting file system access: %w", err)
		}
	}

	srv, err := rsyncd.NewServer(modules, rsyncd.WithLogger(logger))
	if err != nil {
		return err
	}

	var listeners []net.Listener
	for _, l := range cfg.Listeners {
		ln, err := net.Listen("tcp", l.Address)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", l.Address, err)
		}
		logger.Printf("listening on %s", ln.Addr())
		listeners = append(listeners, ln)
	}
	if len(listeners) == 0 {
		return fmt.Errorf("no [[listener]] configured in %s", *configPath)
	}

	if !*dontRestrict {
		if err := privdrop.Drop(logger); err != nil {
			return fmt.Errorf("dropping privileges: %w", err)
		}
	}

	if *monitoringListen != "" {
		// http.DefaultServeMux already carries pprof's handlers via the
		// blank import above; mount /metrics on it too instead of standing
		// up a second, disconnected mux that pprof can't reach.
		http.Handle("/metrics", promhttp.Handler())
		monSrv := &http.Server{Addr: *monitoringListen, Handler: http.DefaultServeMux}
		g.Go(func() error {
			if err := monSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return monSrv.Close()
		})
	}

	g.Go(func() error {
		return srv.Serve(ctx, listeners...)
	})

	return g.Wait()
}
