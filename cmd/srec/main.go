package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/kalkan/srec/internal/config"
	"github.com/kalkan/srec/internal/propagation"
	"github.com/kalkan/srec/internal/tle"
	"github.com/kalkan/srec/internal/track"
)

var (
	configPath string
	tleFile    string
	verbose    bool
	jsonOut    bool
)

var rootCmd = &cobra.Command{
	Use:   "srec",
	Short: "ground track and pass prediction for one satellite",
	Long: `srec propagates a single three-line TLE record with SGP4 and prints the
sub-satellite position, its ground track, or the visibility passes over a
ground observer.

Settings come from defaults, then the YAML file named by --config or
$SREC_CONFIG, then SREC_* environment variables, then command flags.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&tleFile, "tle", "", "three-line TLE file (default: embedded ISS record)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging on stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print JSON instead of text")
}

func main() {
	// Ctrl-C aborts a long pass search between coarse steps.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "srec: %v\n", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// env is what every subcommand needs: settings, a logger and the session for
// the loaded record.
type env struct {
	cfg     config.Config
	logger  *slog.Logger
	dataset *tle.Dataset
	session *track.Session
}

func setup(cmd *cobra.Command) (*env, error) {
	logger := newLogger()
	cfg, err := config.Load(configPath, logger)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("tle") {
		cfg.TLEFile = tleFile
	}

	ds, err := tle.NewFileSource(cfg.TLEFile, logger).Load()
	if err != nil {
		return nil, err
	}
	sess, err := track.NewSession(ds.Record, propagation.NewWorkerPool(cfg.Workers, logger), logger)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, dataset: ds, session: sess}, nil
}
