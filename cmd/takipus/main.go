package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/usdanismanlik/takipus/internal/config"
	"github.com/usdanismanlik/takipus/internal/ledger"
	"github.com/usdanismanlik/takipus/internal/logging"
	"github.com/usdanismanlik/takipus/internal/risk"
)

func main() {
	if err := runFn(os.Args[1:], os.Getenv, os.Stdout, listenAndServe); err != nil {
		fatalf("takipus: %v", err)
	}
}

var runFn = run
var fatalf = log.Fatalf

type envFn func(string) string
type listenFn func(*http.Server) error

type options struct {
	configPath string
	getenv     envFn
	stdout     io.Writer
	listen     listenFn
}

func run(args []string, getenv envFn, stdout io.Writer, listen listenFn) error {
	root := newRootCmd(&options{getenv: getenv, stdout: stdout, listen: listen})
	root.SetArgs(args)
	return root.Execute()
}

func newRootCmd(o *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "takipus",
		Short:         "Corrective action tracking service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(o.stdout)
	root.PersistentFlags().StringVar(&o.configPath, "config", "", "path to takipus config file (env TAKIPUS_CONFIG_PATH)")

	reminders := &cobra.Command{Use: "reminders", Short: "Due-date reminder scheduler"}
	reminders.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run one overdue and reminder pass and print the result",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, _ []string) error { return runReminders(cmd.Context(), o) },
	})

	riskCmd := &cobra.Command{Use: "risk", Short: "Risk matrix reference"}
	riskCmd.AddCommand(&cobra.Command{
		Use:   "matrix",
		Short: "Print the 5x5 risk matrix",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return writeJSON(o.stdout, map[string]any{
				"matrix":            risk.Matrix(),
				"levels":            risk.Levels(),
				"probability_scale": risk.ProbabilityScale(),
				"severity_scale":    risk.SeverityScale(),
			})
		},
	})

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Serve the HTTP API with the scheduler and push worker",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return serve(cmd.Context(), o) },
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations",
			Args:  cobra.NoArgs,
			RunE:  func(_ *cobra.Command, _ []string) error { return migrate(o) },
		},
		reminders,
		riskCmd,
	)
	return root
}

// loadConfig layers defaults, the optional config file and TAKIPUS_* variables.
func loadConfig(o *options) (config.Config, error) {
	if err := config.LoadDotEnv(o.getenv("TAKIPUS_ENV_FILE")); err != nil {
		return config.Config{}, fmt.Errorf("load env file: %w", err)
	}
	path := o.configPath
	if path == "" {
		path = o.getenv("TAKIPUS_CONFIG_PATH")
	}
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

func serve(ctx context.Context, o *options) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.startWorkers(ctx)
	srv := a.server()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", cfg.ListenAddr).Str("db", cfg.DB.Driver).Msg("takipus listening")
	if err := o.listen(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func runReminders(ctx context.Context, o *options) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr))
	if err != nil {
		return err
	}
	defer a.close()
	if ctx == nil {
		ctx = context.Background()
	}
	return writeJSON(o.stdout, a.scheduler.Run(ctx))
}

func migrate(o *options) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.DB.Driver)) {
	case "", "memory":
		return fmt.Errorf("migrate needs db.driver sqlite or postgres")
	}
	driver, err := ledger.ParseDriver(cfg.DB.Driver)
	if err != nil {
		return err
	}
	_, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(o.stdout, "migrations applied (%s)\n", driver)
	return closeStore()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func listenAndServe(server *http.Server) error {
	return server.ListenAndServe()
}
