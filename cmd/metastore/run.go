package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"metastore/internal/config"
	"metastore/internal/httpapi"
	"metastore/internal/logging"
	"metastore/internal/metadata"
	"metastore/internal/snapshot"
	boltsnap "metastore/internal/snapshot/bolt"
	"metastore/internal/ui"
)

var logger = logging.For("main")

// run serves cfg until ctx is done.
func run(ctx context.Context, cfg *config.Config) error {
	st := metadata.New()

	persister, closeBackend, err := openSnapshots(cfg.Snapshot, st)
	if err != nil {
		return err
	}
	defer closeBackend()

	restored := false
	if persister != nil {
		if restored, err = persister.Restore(); err != nil {
			return err
		}
	}
	if !restored && cfg.Store.Seed != "" {
		if err := loadSeed(st, config.ExpandHome(cfg.Store.Seed)); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	opts := []httpapi.Option{
		httpapi.WithRegistry(reg),
		httpapi.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		httpapi.WithTimeouts(cfg.Server.ReadTimeout.Duration, cfg.Server.WriteTimeout.Duration, cfg.Server.ShutdownTimeout.Duration),
	}
	if cfg.UI.Dir != "" {
		helper, err := instrumentUI(st, config.ExpandHome(cfg.UI.Dir), cfg.UI.Mount)
		if err != nil {
			return err
		}
		opts = append(opts, httpapi.WithStatic(helper))
	}

	logger.Info("metastore starting",
		"listen", cfg.Server.Listen,
		"ids", st.Len(),
		"restored", restored,
		"snapshots", persister != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpapi.New(st, opts...).Run(gctx, cfg.Server.Listen)
	})
	if persister != nil {
		g.Go(func() error {
			return persister.Run(gctx, cfg.Snapshot.Interval.Duration)
		})
	}
	return g.Wait()
}

// openSnapshots opens the bolt snapshot backend when snapshots are enabled.
// The returned close func is always safe to call.
func openSnapshots(cfg config.SnapshotConfig, st *metadata.Store) (*snapshot.Persister, func(), error) {
	noop := func() {}
	if !cfg.Enabled {
		return nil, noop, nil
	}

	dir := config.ExpandHome(cfg.DataDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, noop, fmt.Errorf("creating data dir: %w", err)
	}
	backend, err := boltsnap.Open(filepath.Join(dir, "data.db"))
	if err != nil {
		return nil, noop, fmt.Errorf("snapshot store: %w", err)
	}
	closeBackend := func() {
		if err := backend.Close(); err != nil {
			logger.Error("closing snapshot store", "err", err)
		}
	}

	p, err := snapshot.NewPersister(backend, st, snapshot.DefaultName, cfg.Format)
	if err != nil {
		closeBackend()
		return nil, noop, err
	}
	return p, closeBackend, nil
}

// loadSeed replaces the contents of st with the serialized store in path.
func loadSeed(st *metadata.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading seed: %w", err)
	}
	if err := st.Load(data); err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	logger.Info("loaded seed", "path", path, "ids", st.Len())
	return nil
}

// instrumentUI records the front-end tree under dir in st, replacing any
// route table restored from an earlier run.
func instrumentUI(st *metadata.Store, dir, mount string) (*ui.Helper, error) {
	helper := ui.New(st)
	helper.Reset()
	if err := helper.InstrumentTree(dir, mount); err != nil {
		return nil, fmt.Errorf("instrumenting %s: %w", dir, err)
	}
	logger.Info("serving ui", "dir", dir, "routes", helper.Routes())
	return helper, nil
}
