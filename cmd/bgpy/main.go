// bgpy -- one-shot BGP-4 peering client for protocol testing.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Jaxartes/bgpy/internal/config"
	bgpmetrics "github.com/Jaxartes/bgpy/internal/metrics"
	"github.com/Jaxartes/bgpy/internal/session"
	"github.com/Jaxartes/bgpy/internal/trace"
	appversion "github.com/Jaxartes/bgpy/internal/version"
)

// dialTimeout caps how long the initial TCP connect may take.
const dialTimeout = 30 * time.Second

// shutdownTimeout is the maximum time to wait for the metrics server to
// drain active connections after the session ends.
const shutdownTimeout = 5 * time.Second

// errPeerAddressRequired is returned when neither the command line nor the
// configuration names a peer.
var errPeerAddressRequired = errors.New("peer address required")

var (
	// flagConfig is the configuration file path.
	flagConfig string

	// flagRun holds startup command directives, repeatable.
	flagRun []string

	// flagDumpConfig prints the effective configuration and exits.
	flagDumpConfig bool

	// Per-setting overrides; applied only when the flag was given.
	flagLocalAS     uint16
	flagRouterID    string
	flagHoldTime    uint16
	flagPort        uint16
	flagTCPHex      bool
	flagMetricsAddr string
	flagLogLevel    string
	flagLogFormat   string
)

// exitCode is the process exit status, decided by the session's terminal
// state. Setup failures exit 1 via RunE instead.
var exitCode int

// rootCmd is the top-level cobra command for bgpy.
var rootCmd = &cobra.Command{
	Use:   "bgpy [flags] <peer-address>",
	Short: "One-shot BGP-4 peering client",
	Long: "bgpy opens a single BGP session to one peer and drives it from\n" +
		"console commands and scripted programmes. The process exits when\n" +
		"the session ends; it never reconnects.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, args)
		if err != nil {
			return err
		}

		if flagDumpConfig {
			out, err := cfg.DumpYAML()
			if err != nil {
				return fmt.Errorf("dump config: %w", err)
			}
			fmt.Print(out)
			return nil
		}

		if cfg.Peer.Address == "" {
			return errPeerAddressRequired
		}

		return runClient(cfg)
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flagConfig, "config", "", "path to configuration file (YAML)")
	f.StringArrayVar(&flagRun, "run", nil,
		"startup command directive, e.g. '@run idler 180' (repeatable)")
	f.BoolVar(&flagDumpConfig, "dump-config", false,
		"print the effective configuration as YAML and exit")

	f.Uint16Var(&flagLocalAS, "local-as", 0, "local autonomous system number")
	f.StringVar(&flagRouterID, "router-id", "",
		"local BGP identifier (dotted quad or 32-bit integer)")
	f.Uint16Var(&flagHoldTime, "hold-time", 0,
		"hold time in seconds, 0 disables keepalives")
	f.Uint16Var(&flagPort, "port", 0, "peer TCP port")
	f.BoolVar(&flagTCPHex, "tcp-hex", false,
		"dump all TCP exchanges as hex on stderr")
	f.StringVar(&flagMetricsAddr, "metrics-addr", "",
		"Prometheus metrics listen address, empty disables")
	f.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&flagLogFormat, "log-format", "", "log format: text, json")

	rootCmd.AddCommand(versionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print bgpy build information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(appversion.Full("bgpy"))
		},
	}
}

// -------------------------------------------------------------------------
// Configuration — file, environment, then flags
// -------------------------------------------------------------------------

// loadConfig loads the configuration file and layers the command line on
// top: explicit flags and the positional peer address win over file and
// environment values.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	f := cmd.Flags()
	if f.Changed("local-as") {
		cfg.BGP.LocalAS = flagLocalAS
	}
	if f.Changed("router-id") {
		cfg.BGP.RouterID = flagRouterID
	}
	if f.Changed("hold-time") {
		cfg.BGP.HoldTime = flagHoldTime
	}
	if f.Changed("port") {
		cfg.Peer.Port = flagPort
	}
	if f.Changed("tcp-hex") {
		cfg.Trace.TCPHex = flagTCPHex
	}
	if f.Changed("metrics-addr") {
		cfg.Metrics.Addr = flagMetricsAddr
	}
	if f.Changed("log-level") {
		cfg.Log.Level = flagLogLevel
	}
	if f.Changed("log-format") {
		cfg.Log.Format = flagLogFormat
	}
	if len(args) == 1 {
		cfg.Peer.Address = args[0]
	}

	// Flag directives run after any file-supplied ones.
	cfg.Run = append(cfg.Run, flagRun...)

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// -------------------------------------------------------------------------
// Client Run — dial, observers, reactor, teardown
// -------------------------------------------------------------------------

// runClient connects to the peer and drives the session to completion.
// The terminal status decides the process exit code: 0 when the session
// ended by operator exit, peer closure or a peer NOTIFICATION, 1 for
// hold-timer expiry, protocol errors and socket failures.
func runClient(cfg *config.Config) error {
	logger := newLogger(cfg.Log)

	routerID, err := cfg.BGP.RouterAddr()
	if err != nil {
		return fmt.Errorf("router id: %w", err)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	peer := net.JoinHostPort(cfg.Peer.Address, strconv.Itoa(int(cfg.Peer.Port)))
	logger.Info("bgpy starting",
		slog.String("version", appversion.Version),
		slog.String("peer", peer),
		slog.Uint64("local_as", uint64(cfg.BGP.LocalAS)),
		slog.String("router_id", routerID.String()),
	)

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", peer)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", peer, err)
	}
	logger.Info("connected",
		slog.String("local", conn.LocalAddr().String()),
		slog.String("remote", conn.RemoteAddr().String()),
	)

	// Observers: metrics when the endpoint is enabled, hex trace on demand.
	var observers []session.Observer
	var collector *bgpmetrics.Collector
	reg := prometheus.NewRegistry()
	if cfg.Metrics.Addr != "" {
		collector = bgpmetrics.NewCollector(reg)
		observers = append(observers, collector)
	}
	if cfg.Trace.TCPHex {
		observers = append(observers, trace.New(os.Stderr))
	}

	sess := session.New(conn, session.Config{
		LocalAS:  cfg.BGP.LocalAS,
		RouterID: routerID,
		HoldTime: cfg.BGP.HoldTime,
		Startup:  cfg.Run,
		Logger:   logger,
	}, observers...)

	// The session's end cancels this context, which brings the metrics
	// server down with it.
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(sessCtx)

	if cfg.Metrics.Addr != "" {
		startMetricsServer(gCtx, g, cfg.Metrics, reg, logger)
	}

	commands := make(chan string)
	go pumpStdin(gCtx, commands)

	var status session.Status
	g.Go(func() error {
		defer cancel()

		st, runErr := sess.Run(gCtx, commands)
		status = st
		if collector != nil {
			collector.SetStatus(st)
		}

		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			logger.Error("session ended",
				slog.String("status", st.String()),
				slog.String("error", runErr.Error()),
			)
			return nil
		}
		logger.Info("session ended", slog.String("status", st.String()))
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run session: %w", err)
	}

	switch status {
	case session.StatusCommandExit, session.StatusClosedByPeer, session.StatusPeerNotified:
		exitCode = 0
	default:
		exitCode = 1
	}
	return nil
}

// newLogger creates the structured logger. Logs go to stderr; stdout is
// the console for echo and help output.
func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.Level)}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// -------------------------------------------------------------------------
// Console Input
// -------------------------------------------------------------------------

// pumpStdin feeds operator lines from standard input into the command
// channel and closes it on EOF. A blocked Scan outlives context
// cancellation; the goroutine dies with the process.
func pumpStdin(ctx context.Context, commands chan<- string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case commands <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
	close(commands)
}

// -------------------------------------------------------------------------
// Metrics Server
// -------------------------------------------------------------------------

// startMetricsServer registers the metrics HTTP server goroutine and its
// shutdown companion on the errgroup.
func startMetricsServer(
	ctx context.Context,
	g *errgroup.Group,
	cfg config.MetricsConfig,
	reg *prometheus.Registry,
	logger *slog.Logger,
) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc := net.ListenConfig{}
	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Addr),
			slog.String("path", cfg.Path),
		)
		return listenAndServe(ctx, &lc, srv, cfg.Addr)
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(
			context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	})
}

// listenAndServe creates a TCP listener using the ListenConfig and serves
// HTTP requests until the server is shut down.
func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}
