// Command modloaderd is a demo binary wiring RepositoryPoller, a
// directory- or OCI-registry-backed ArchiveRepository, ModuleLoader,
// and ListenerBus into a standalone service. Flag wiring and
// signal-driven shutdown are grounded on the teacher's own
// cmd/cue/cmd/modregistry.go ("cue mod registry").
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cuelabs.dev/go/oci/ociregistry/ociclient"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/modkit/loader/compiler"
	"github.com/modkit/loader/compiler/scriptcompiler"
	"github.com/modkit/loader/compiler/wasmcompiler"
	"github.com/modkit/loader/config"
	"github.com/modkit/loader/events"
	"github.com/modkit/loader/loader"
	"github.com/modkit/loader/ordered"
	"github.com/modkit/loader/poller"
	"github.com/modkit/loader/repository/fsrepo"
	"github.com/modkit/loader/repository/ocirepo"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "modloaderd",
		Short: "run a standalone module-loading daemon",
		Long: `modloaderd polls a module repository for archive updates,
compiles and links modules leaf-first, and publishes the results to
whatever listens on its event bus.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a TOML configuration file (defaults are used if omitted)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "logrus log level: trace, debug, info, warn, error")
	return cmd
}

func run(configPath, logLevel string) error {
	cfg := config.Default()
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("modloaderd: reading config: %w", err)
		}
		cfg, err = config.Decode(data)
		if err != nil {
			return fmt.Errorf("modloaderd: %w", err)
		}
	}

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("modloaderd: %w", err)
	}
	base := logrus.New()
	base.SetLevel(level)
	log := logrus.NewEntry(base)

	if err := os.MkdirAll(cfg.ScratchRoot, 0o755); err != nil {
		return fmt.Errorf("modloaderd: creating scratch root: %w", err)
	}

	appImports := &ordered.Set{}
	for _, s := range cfg.DefaultAppImports {
		appImports.Add(s)
	}

	dispatch := compiler.New()
	dispatch.Register(scriptcompiler.New("script"))
	wasm := wasmcompiler.New(context.Background(), "wasm")
	defer wasm.Close()
	dispatch.Register(wasm)

	bus := events.New()
	bus.Register(loggingListener{log})

	ld := loader.New(loader.Config{
		ScratchRoot:       cfg.ScratchRoot,
		DefaultAppImports: appImports,
		Compilers:         dispatch,
		Logger:            log,
	}, bus)

	repo, repoDescription, err := openRepository(cfg, log)
	if err != nil {
		return err
	}
	log.WithField("repository", repoDescription).Info("modloaderd: repository configured")

	p := poller.New(ld, log)
	p.AddRepository("primary", repo, cfg.PollInterval, true)
	defer p.Shutdown()

	log.Info("modloaderd: running; press Ctrl+C to stop")
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
	<-sigint
	log.Info("modloaderd: shutting down")
	return nil
}

func openRepository(cfg config.LoaderConfig, log *logrus.Entry) (poller.Repository, string, error) {
	if cfg.Registry.Endpoint != "" {
		reg, err := ociclient.New(cfg.Registry.Endpoint, &ociclient.Options{Insecure: true})
		if err != nil {
			return nil, "", fmt.Errorf("modloaderd: connecting to registry %s: %w", cfg.Registry.Endpoint, err)
		}
		repoPath := cfg.Registry.Namespace
		if repoPath == "" {
			repoPath = "modkit-archives"
		}
		return ocirepo.New(reg, repoPath, cfg.ShardCount, log), fmt.Sprintf("oci://%s/%s", cfg.Registry.Endpoint, repoPath), nil
	}

	fsRepo, err := fsrepo.New(cfg.RepoDir, cfg.ShardCount, log)
	if err != nil {
		return nil, "", fmt.Errorf("modloaderd: opening directory repository: %w", err)
	}
	return fsRepo, "file://" + cfg.RepoDir, nil
}

// loggingListener logs every published and rejected event, the
// default observability surface when no richer listener is wired in.
type loggingListener struct {
	log *logrus.Entry
}

func (l loggingListener) ModuleUpdated(ev events.ModuleUpdated) {
	if ev.New.ModuleId.Name != "" {
		l.log.WithField("module", ev.New.ModuleId.String()).WithField("revision", ev.New.RevisionTag.String()).Info("module published")
		return
	}
	l.log.WithField("module", ev.Old.ModuleId.String()).Info("module removed")
}

func (l loggingListener) ArchiveRejected(ev events.ArchiveRejected) {
	l.log.WithField("module", ev.ModuleId.String()).WithField("reason", ev.Reason).WithError(ev.Cause).Warn("archive rejected")
}
