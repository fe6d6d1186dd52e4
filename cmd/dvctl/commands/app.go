package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/scottdurow/dataverseify/pkg/client"
	"github.com/scottdurow/dataverseify/pkg/coerce"
	"github.com/scottdurow/dataverseify/pkg/config"
	"github.com/scottdurow/dataverseify/pkg/metadata"
	"github.com/scottdurow/dataverseify/pkg/policy"
	"github.com/scottdurow/dataverseify/pkg/stores"
	"github.com/scottdurow/dataverseify/pkg/telemetry"
	"github.com/scottdurow/dataverseify/pkg/transport/memory"
	"github.com/scottdurow/dataverseify/pkg/transport/webapi"
	"github.com/scottdurow/dataverseify/pkg/workflow"
)

// offlineUserID is what WhoAmI answers in offline mode.
const offlineUserID = "00000000-0000-0000-0000-0000000000aa"

// app holds what a command builds from the configuration. Parts are created
// on demand so that commands like "runs" never touch the registry.
type app struct {
	opts   *globalOptions
	cfg    *config.Config
	tel    *telemetry.Telemetry
	logger zerolog.Logger

	registry *metadata.Registry
	client   *client.Client
	offline  *memory.Store
	store    *stores.SQLiteStore
}

// newApp loads the configuration, applies the global flags and sets up
// telemetry.
func newApp(opts *globalOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.registry != "" {
		cfg.Registry = opts.registry
	}
	if opts.offline {
		cfg.Offline = true
	}
	if opts.yes {
		cfg.Workflow.AutoConfirm = true
	}
	if opts.verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	cfg.Telemetry.ServiceVersion = opts.version

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	zerolog.SetGlobalLevel(telemetry.ParseLevel(cfg.Telemetry.Logging.Level))
	log.Logger = tel.Logger

	if err := tel.StartMetricsServer(); err != nil {
		return nil, err
	}

	return &app{
		opts:   opts,
		cfg:    cfg,
		tel:    tel,
		logger: tel.Logger,
	}, nil
}

// close releases the store and flushes telemetry.
func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close run history store")
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}

func (a *app) loadRegistry() (*metadata.Registry, error) {
	if a.registry != nil {
		return a.registry, nil
	}
	reg, err := metadata.LoadFile(a.cfg.Registry)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}
	a.logger.Debug().
		Str("path", a.cfg.Registry).
		Int("entities", len(reg.EntityNames())).
		Int("actions", len(reg.ActionNames())).
		Msg("Loaded schema registry")
	a.registry = reg
	return reg, nil
}

// newClient builds the service client over the fixture store when offline
// and over the Web API otherwise.
func (a *app) newClient() (*client.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	reg, err := a.loadRegistry()
	if err != nil {
		return nil, err
	}

	engineOpts := []coerce.Option{
		coerce.WithLogger(a.logger),
		coerce.WithDiagnosticHook(func(d coerce.Diagnostic) {
			a.tel.Metrics.RecordOptionsetDrift(d.LogicalName, d.Attribute)
		}),
	}
	if tz := a.cfg.Environment.Timezone; tz != "" {
		zone, err := coerce.NamedZone(tz)
		if err != nil {
			return nil, err
		}
		engineOpts = append(engineOpts, coerce.WithZone(zone))
	}
	engine := coerce.New(reg, engineOpts...)

	var transport client.Transport
	if a.cfg.Offline {
		store, err := a.offlineStore(reg)
		if err != nil {
			return nil, err
		}
		transport = store
	} else {
		if err := a.cfg.RequireRemote(); err != nil {
			return nil, err
		}
		transport, err = webapi.New(a.cfg.Environment.URL, reg,
			webapi.WithTokenSource(webapi.EnvToken(a.cfg.Environment.TokenEnv)),
			webapi.WithTimeout(a.cfg.Environment.Timeout),
			webapi.WithLogger(a.logger),
		)
		if err != nil {
			return nil, err
		}
	}

	a.client = client.New(transport, engine,
		client.WithLogger(a.logger),
		client.WithMetrics(a.tel.Metrics),
		client.WithTracer(a.tel.Tracer),
	)
	return a.client, nil
}

func (a *app) offlineStore(reg *metadata.Registry) (*memory.Store, error) {
	store := memory.New(reg)
	store.RegisterAction("WinOpportunity", memory.SetState("OpportunityClose", "opportunityid", 1))
	store.RegisterAction("LoseOpportunity", memory.SetState("OpportunityClose", "opportunityid", 2))
	store.RegisterAction("WhoAmI", memory.WhoAmI(offlineUserID))

	if a.cfg.Fixtures != "" {
		if err := store.LoadFixtures(a.cfg.Fixtures); err != nil {
			return nil, err
		}
	}
	a.logger.Info().Str("fixtures", a.cfg.Fixtures).Msg("Running offline against the in-memory store")
	a.offline = store
	return store, nil
}

// openStore opens the run history database, or returns nil when history is
// disabled.
func (a *app) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if a.cfg.Store.Disabled {
		return nil, nil
	}
	if a.store != nil {
		return a.store, nil
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: a.cfg.Store.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}
	a.store = store
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}

	if keep := a.cfg.Store.Retention; keep > 0 {
		n, err := store.DeleteRunsBefore(ctx, time.Now().Add(-keep))
		if err != nil {
			a.logger.Warn().Err(err).Msg("Failed to prune run history")
		} else if n > 0 {
			a.logger.Debug().Int64("runs", n).Msg("Pruned run history")
		}
	}
	return store, nil
}

// newRunner wires the workflow runner with the policy gate, the history
// recorder and the terminal collaborators.
func (a *app) newRunner(ctx context.Context, cmd *cobra.Command) (*workflow.Runner, error) {
	c, err := a.newClient()
	if err != nil {
		return nil, err
	}

	gate, err := a.newGate(ctx)
	if err != nil {
		return nil, err
	}

	opts := []workflow.Option{
		workflow.WithGate(gate),
		workflow.WithLogger(a.logger),
		workflow.WithMetrics(a.tel.Metrics),
		workflow.WithTracer(a.tel.Tracer),
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store != nil {
		opts = append(opts, workflow.WithRecorder(stores.NewRecorder(store)))
	}

	var confirmer workflow.Confirmer = workflow.Accept
	if !a.cfg.Workflow.AutoConfirm {
		confirmer = &terminalConfirmer{in: cmd.InOrStdin(), out: cmd.ErrOrStderr()}
	}

	var (
		progress workflow.Progress = &terminalProgress{out: cmd.ErrOrStderr()}
		notifier workflow.Notifier = &terminalNotifier{out: cmd.OutOrStdout()}
	)
	if a.opts.jsonOutput {
		progress = workflow.LogProgress{Logger: a.logger}
		notifier = workflow.LogNotifier{Logger: a.logger}
	}

	return workflow.NewRunner(c, confirmer, progress, notifier, opts...), nil
}

// newGate loads the built-in guardrails and the configured policy paths.
func (a *app) newGate(ctx context.Context) (*policy.Engine, error) {
	reg, err := a.loadRegistry()
	if err != nil {
		return nil, err
	}
	gate, err := policy.NewEngine(a.logger, policy.WithRegistry(reg))
	if err != nil {
		return nil, err
	}
	if len(a.cfg.Policies) > 0 {
		if err := gate.LoadPolicies(ctx, a.cfg.Policies); err != nil {
			return nil, err
		}
	}
	return gate, nil
}
