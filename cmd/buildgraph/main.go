// Builds neighbor-graph and structural-context artifacts from a
// city-clustered interaction dataset.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"time"

	sentrypkg "github.com/getsentry/sentry-go"
	"github.com/gammazero/workerpool"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/structrec/structrec/env"
	"github.com/structrec/structrec/service/assemble"
	"github.com/structrec/structrec/service/graph"
	"github.com/structrec/structrec/service/logger"
	"github.com/structrec/structrec/service/persist"
	"github.com/structrec/structrec/service/rwr"
	"github.com/structrec/structrec/service/store"
	"github.com/structrec/structrec/util"
)

var outDir string
var resume bool

var rootCmd = &cobra.Command{
	Use:   "buildgraph [INPUT...]",
	Short: "Build neighbor graphs and structural context tables",
	Long:  "Build per-city neighbor graphs and RWR structural context tables from partition files produced by the preprocessing stage",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		return run(ctx, args)
	},
}

func main() {
	rootCmd.Flags().StringVarP(&outDir, "out", "o", "out", "directory artifacts are written to")
	rootCmd.Flags().BoolVar(&resume, "resume", false, "reuse entries from an existing context table")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	setDefaults()
	initSentry()
}

func run(ctx context.Context, inputs []string) error {
	now := time.Now()
	s := store.NewArtifactStore(outDir)

	partitions, err := loadPartitions(ctx, inputs)
	if err != nil {
		return err
	}

	wp := workerpool.New(env.GetInt(ctx, "PARTITION_WORKERS"))
	errCh := make(chan error, len(partitions))

	for _, p := range partitions {
		p := p
		wp.Submit(func() {
			pctx := logger.NewContextWithFields(ctx, logrus.Fields{"city": p.City})
			if err := buildPartition(pctx, s, p); err != nil {
				logger.For(pctx).Errorf("build failed for %s: %s", p.City, err)
				reportError(err)
				errCh <- err
			}
		})
	}

	wp.StopWait()
	close(errCh)

	for err := range errCh {
		return err
	}

	logger.For(ctx).Infof("built %d partitions in %s", len(partitions), time.Since(now))
	return nil
}

func loadPartitions(ctx context.Context, inputs []string) ([]persist.Partition, error) {
	var cities []string
	if filter := env.GetString(ctx, "CITY"); filter != "" {
		cities = strings.Split(filter, ",")
	}

	var partitions []persist.Partition
	for _, input := range inputs {
		f, err := os.Open(input)
		if err != nil {
			return nil, err
		}
		parts, err := persist.ReadPartitions(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		for _, p := range parts {
			if cities != nil && !util.Contains(cities, p.City) {
				continue
			}
			partitions = append(partitions, p)
		}
	}

	return partitions, nil
}

func buildPartition(ctx context.Context, s store.ArtifactStore, p persist.Partition) error {
	ix, err := graph.NewIndex(p)
	if err != nil {
		return err
	}

	opts := graph.Options{
		InteractionWeight: env.GetFloat64(ctx, "INTERACTION_WEIGHT"),
		FriendshipWeight:  env.GetFloat64(ctx, "FRIENDSHIP_WEIGHT"),
		Directed:          env.GetBool(ctx, "DIRECTED_EDGES"),
		Sparse:            env.GetBool(ctx, "USE_SPARSE_REPRESENTATION"),
	}

	t, err := graph.BuildTransition(p, ix, opts)
	if err != nil {
		return err
	}

	g, err := graph.NeighborGraph(p, ix, opts)
	if err != nil {
		return err
	}
	if _, err := s.WriteNeighborGraph(ctx, p.City, g); err != nil {
		return err
	}

	var prev *assemble.ContextTable
	if resume {
		prev, err = s.ReadContextTable(ctx, p.City)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	asm, err := assemble.New(p.City, t, ix, assemble.Config{
		RWR: rwr.Config{
			Constant:  env.GetFloat64(ctx, "RWR_CONSTANT"),
			Order:     env.GetInt(ctx, "RWR_ORDER"),
			BatchSize: env.GetInt(ctx, "BATCH_SIZE"),
		},
		TopK:    env.GetInt(ctx, "TOP_K"),
		Workers: env.GetInt(ctx, "WORKER_COUNT"),
		Batched: env.GetBool(ctx, "BATCHED_WALKS"),
	})
	if err != nil {
		return err
	}

	table, err := asm.Build(ctx, prev)
	if err != nil {
		// Persist whatever finished so a --resume run can skip it.
		if table != nil && len(table.Entries) > 0 {
			if _, werr := s.WriteContextTable(ctx, table); werr != nil {
				logger.For(ctx).Errorf("failed to write partial context table for %s: %s", p.City, werr)
			}
		}
		return err
	}

	_, err = s.WriteContextTable(ctx, table)
	return err
}

func setDefaults() {
	viper.SetDefault("ENV", "local")
	viper.SetDefault("CITY", "")
	viper.SetDefault("RWR_ORDER", 3)
	viper.SetDefault("RWR_CONSTANT", 0.05)
	viper.SetDefault("TOP_K", 10)
	viper.SetDefault("USE_SPARSE_REPRESENTATION", true)
	viper.SetDefault("BATCHED_WALKS", true)
	viper.SetDefault("BATCH_SIZE", 128)
	viper.SetDefault("INTERACTION_WEIGHT", 1.0)
	viper.SetDefault("FRIENDSHIP_WEIGHT", 1.0)
	viper.SetDefault("DIRECTED_EDGES", false)
	viper.SetDefault("WORKER_COUNT", 0)
	viper.SetDefault("PARTITION_WORKERS", 2)
	viper.SetDefault("SENTRY_DSN", "")
	viper.SetDefault("SENTRY_TRACES_SAMPLE_RATE", 1.0)
	viper.AutomaticEnv()

	env.RegisterValidation("RWR_ORDER", "gte=1")
	env.RegisterValidation("TOP_K", "gte=1")
	env.RegisterValidation("RWR_CONSTANT", "gt=0", "lt=1")
}

func initSentry() {
	ctx := context.Background()

	if env.GetString(ctx, "ENV") == "local" {
		logger.For(ctx).Info("skipping sentry init")
		return
	}

	logger.For(ctx).Info("initializing sentry...")

	err := sentrypkg.Init(sentrypkg.ClientOptions{
		Dsn:              env.GetString(ctx, "SENTRY_DSN"),
		Environment:      env.GetString(ctx, "ENV"),
		TracesSampleRate: env.GetFloat64(ctx, "SENTRY_TRACES_SAMPLE_RATE"),
		AttachStacktrace: true,
	})

	if err != nil {
		logger.For(ctx).Fatalf("failed to start sentry: %s", err)
	}
}

func reportError(err error) {
	if hub := sentrypkg.CurrentHub(); hub.Client() != nil {
		hub.CaptureException(err)
	}
}
