package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	bootstrap "github.com/km-arc/modgraph/framework/app"
	"github.com/km-arc/modgraph/framework/config"
	"github.com/km-arc/modgraph/framework/logging"
	"github.com/km-arc/modgraph/framework/manifest"
	"github.com/km-arc/modgraph/framework/metrics"
	"github.com/km-arc/modgraph/framework/module"
	"github.com/km-arc/modgraph/framework/provider"
	"github.com/km-arc/modgraph/framework/providers"
	adminhttp "github.com/km-arc/modgraph/http"
	"github.com/km-arc/modgraph/routing"
)

const shutdownTimeout = 10 * time.Second

// Application wires the manifest, the module graph, the bootstrapper and the
// admin surface together.
type Application struct {
	Config   *config.Config
	Log      zerolog.Logger
	Logs     *logging.BufferedWriter
	Metrics  *metrics.Collector
	Loader   *manifest.Loader
	Registry *module.Registry
	Boot     *bootstrap.Bootstrapper
	Router   *routing.Router
	Watcher  *manifest.Watcher
}

// New builds the application from cfg, logging to out (stderr when nil).
// Nothing is read or bootstrapped until Bootstrap.
//
//	application := app.New(config.Load(), nil)
//	application.Serve(ctx)
func New(cfg *config.Config, out io.Writer) *Application {
	if out == nil {
		out = os.Stderr
	}
	log, logs := logging.New(cfg.Log, out)
	log = log.With().Str("app", cfg.App.Name).Logger()
	m := metrics.New()

	loader := manifest.NewLoader(cfg.Manifest.Path, log)
	registry := module.NewRegistry(loader.Catalog(),
		module.WithSourceRoot(cfg.Modules.SourceRoot),
		module.WithCyclicImports(cfg.Modules.AllowCycles),
		module.WithLogger(log),
	)
	boot := bootstrap.New(registry,
		bootstrap.WithLogger(log, logs),
		bootstrap.WithMetrics(m),
		bootstrap.WithDefaults(providers.Defaults(cfg, log, m)...),
	)

	router := routing.New(log)
	adminhttp.NewAdmin(boot,
		adminhttp.WithLogger(log),
		adminhttp.WithMetrics(m),
		adminhttp.WithToken(cfg.Admin.Token),
		adminhttp.WithRefs(func(name string) module.Ref { return manifest.ModuleRef(name) }),
	).Register(router)

	return &Application{
		Config:   cfg,
		Log:      log,
		Logs:     logs,
		Metrics:  m,
		Loader:   loader,
		Registry: registry,
		Boot:     boot,
		Router:   router,
		Watcher: manifest.NewWatcher(loader, boot,
			manifest.WithWatcherLogger(log),
			manifest.WithWatcherMetrics(m),
		),
	}
}

// Bootstrap loads the manifest and runs the first bootstrap pass.
func (a *Application) Bootstrap(ctx context.Context) error {
	if _, err := a.Loader.Load(); err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	if err := a.Boot.Bootstrap(ctx, a.Loader.Root()); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	return nil
}

// Serve bootstraps, optionally watches the manifest and serves the admin API
// until ctx is done, then shuts the server down gracefully.
func (a *Application) Serve(ctx context.Context) error {
	if err := a.Bootstrap(ctx); err != nil {
		return err
	}
	if a.Config.Manifest.Watch {
		if err := a.Watcher.Watch(ctx); err != nil {
			return err
		}
		defer a.Watcher.Stop()
	}
	if !a.Config.Admin.Enabled {
		a.Log.Info().Msg("admin API disabled")
		<-ctx.Done()
		return nil
	}

	ln, err := net.Listen("tcp", a.Config.Admin.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.Config.Admin.Addr, err)
	}
	srv := &http.Server{Handler: a.Router.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	a.Log.Info().Str("addr", ln.Addr().String()).Str("env", a.Config.App.Env).Msg("admin API listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		a.Log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Check bootstraps once and writes a per-module summary to w.
func (a *Application) Check(ctx context.Context, w io.Writer) error {
	if err := a.Bootstrap(ctx); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODULE\tPREFIX\tEXTERNAL\tPROVIDERS\tIMPORTS\tEXTENSIONS")
	for _, m := range a.Boot.AllMetadata() {
		var ps, imports []string
		for _, s := range provider.ModuleScopes {
			for _, p := range m.Providers[s] {
				ps = append(ps, s.String()+":"+provider.Stringify(p.Token))
			}
			for _, rec := range m.Imports[s] {
				imports = append(imports, provider.Stringify(rec.Token)+"@"+rec.Module)
			}
		}
		var groups []string
		for g, values := range m.Extensions {
			groups = append(groups, fmt.Sprintf("%s=%d", g, len(values)))
		}
		sort.Strings(groups)
		prefix := m.Prefix
		if prefix == "" {
			prefix = "/"
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\t%s\n",
			m.Key(), prefix, m.IsExternal, list(ps), list(imports), list(groups))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d modules, pass %s\n", len(a.Boot.AllMetadata()), a.Boot.PassID())
	return nil
}

func list(ss []string) string {
	if len(ss) == 0 {
		return "-"
	}
	return strings.Join(ss, ",")
}
