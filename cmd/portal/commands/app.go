package commands

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/benvon/hospital-portal/internal/api"
	"github.com/benvon/hospital-portal/internal/config"
	"github.com/benvon/hospital-portal/internal/credentials"
	"github.com/benvon/hospital-portal/internal/effects"
	"github.com/benvon/hospital-portal/internal/logger"
	"github.com/benvon/hospital-portal/internal/metrics"
	"github.com/benvon/hospital-portal/internal/navigation"
	"github.com/benvon/hospital-portal/internal/session"
	"github.com/benvon/hospital-portal/internal/telemetry"
	"github.com/benvon/hospital-portal/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app is the wired client used by one command invocation
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     *credentials.Store
	session   *session.Manager
	navigator *navigation.Navigator
	hospitals *api.HospitalClient
	title     *effects.Title
	registry  *prometheus.Registry
	out       io.Writer
	errOut    io.Writer
	closers   []func(context.Context) error
}

func (o *rootOptions) newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	debug := cfg.DebugMode || o.debug

	zapLogger, err := logger.New(cfg.LogFormat, debug)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &app{
		cfg:    cfg,
		logger: zapLogger,
		title:  &effects.Title{},
		out:    cmd.OutOrStdout(),
		errOut: cmd.ErrOrStderr(),
	}
	a.closers = append(a.closers, func(context.Context) error {
		// stderr sync errors are expected on some terminals
		_ = logger.Sync(zapLogger)
		return nil
	})

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a.closers = append(a.closers, telemetry.Setup(ctx, cfg.OTELEnabled, cfg.OTELEndpoint, zapLogger))

	kv, err := a.openBackend(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = credentials.NewStore(kv)

	var rec *metrics.Recorder
	if cfg.MetricsEnabled {
		a.registry = prometheus.NewRegistry()
		if rec, err = metrics.New(a.registry); err != nil {
			a.close()
			return nil, fmt.Errorf("init metrics: %w", err)
		}
	}

	progress := &effects.ProgressCounter{}
	// the navigator does not exist yet; forced logouts are routed to it lazily
	var nav *navigation.Navigator
	tc, err := transport.NewClient(a.store, transport.Options{
		BaseURL:    cfg.APIBaseURL,
		Timeout:    cfg.RequestTimeout,
		LoginPath:  cfg.LoginPath,
		Progress:   progress,
		Notifier:   newNotifier(cfg.LogFormat, a.errOut, zapLogger),
		Redirector: effects.RedirectFunc(func(path string) { nav.HardRedirect(path) }),
		Metrics:    rec,
		Logger:     zapLogger,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("init transport: %w", err)
	}

	a.session = session.New(a.store, api.NewUserClient(tc), session.Options{Logger: zapLogger, Metrics: rec})
	a.hospitals = api.NewHospitalClient(tc)

	table, err := navigation.NewTable(navigation.DefaultRoutes())
	if err != nil {
		a.close()
		return nil, fmt.Errorf("build routes: %w", err)
	}
	guard := navigation.NewGuard(a.session, navigation.GuardOptions{
		AppTitle: cfg.AppTitle,
		Progress: progress,
		Titler:   a.title,
		Metrics:  rec,
		Logger:   zapLogger,
	})
	nav = navigation.NewNavigator(table, guard, navigation.NavigatorOptions{Logger: zapLogger})
	a.navigator = nav

	zapLogger.Debug("portal_initialized",
		zap.String("api_base_url", cfg.APIBaseURL),
		zap.String("credential_backend", cfg.CredentialBackend),
		zap.Bool("otel_enabled", cfg.OTELEnabled),
	)
	return a, nil
}

// newNotifier keeps user messages on the log stream when logs are JSON, and
// prints them as plain lines otherwise
func newNotifier(format string, w io.Writer, l *zap.Logger) effects.Notifier {
	if format == logger.FormatJSON {
		return effects.LogNotifier{Logger: l}
	}
	return effects.NewWriterNotifier(w)
}

func (a *app) openBackend(ctx context.Context) (credentials.KV, error) {
	switch a.cfg.CredentialBackend {
	case config.BackendMemory:
		return credentials.NewMemoryKV(), nil
	case config.BackendRedis:
		kv, err := credentials.DialRedisKV(ctx, a.cfg.RedisURL, a.cfg.CredentialPrefix)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return kv.Close() })
		return kv, nil
	default:
		path := a.cfg.CredentialFile
		if path == "" {
			p, err := credentials.DefaultFilePath()
			if err != nil {
				return nil, fmt.Errorf("locate credential file: %w", err)
			}
			path = p
		}
		return credentials.NewFileKV(path), nil
	}
}

// close releases resources in reverse order and prints metrics if enabled
func (a *app) close() {
	a.dumpMetrics()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown_step_failed", zap.Error(err))
		}
	}
}

func (a *app) dumpMetrics() {
	if a.registry == nil {
		return
	}
	families, err := a.registry.Gather()
	if err != nil {
		a.logger.Warn("metrics_gather_failed", zap.Error(err))
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			sort.Strings(labels)
			_, _ = fmt.Fprintf(a.errOut, "%s{%s} %g\n", mf.GetName(), strings.Join(labels, ","), m.GetCounter().GetValue())
		}
	}
}

// withApp wires the client for one command and tears it down afterwards
func (o *rootOptions) withApp(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := o.newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		return run(cmd, a, args)
	}
}
