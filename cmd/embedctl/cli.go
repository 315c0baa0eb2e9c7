package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfluke/loom-embedding/envconfig"
	"github.com/openfluke/loom-embedding/gpu"
	"github.com/openfluke/loom-embedding/nn"
)

// NewCLI builds the embedctl command tree writing results to out.
func NewCLI(out io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "embedctl",
		Short:         "Inspect and run embedding layers",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: envconfig.LogLevel()})
			slog.SetDefault(slog.New(handler))
		},
	}
	rootCmd.SetOut(out)

	rootCmd.AddCommand(
		newSynthesizeCmd(),
		newForwardCmd(),
		newDescribeCmd(),
		newReplicasCmd(),
		newEnvCmd(),
		newDevicesCmd(),
	)
	return rootCmd
}

func newSynthesizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "synthesize",
		Short: "Print a fixed sinusoidal position table",
		Args:  cobra.NoArgs,
		RunE:  SynthesizeHandler,
	}
	cmd.Flags().Int("seq", 8, "Number of positions")
	cmd.Flags().Int("dim", 8, "Embedding width")
	cmd.Flags().Float64("min", nn.DefaultMinTimescale, "Minimum timescale")
	cmd.Flags().Float64("max", nn.DefaultMaxTimescale, "Maximum timescale")
	return cmd
}

func newForwardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forward",
		Short: "Embed token ids with a configured layer",
		Args:  cobra.NoArgs,
		RunE:  ForwardHandler,
	}
	addLayerFlags(cmd)
	cmd.Flags().String("ids", "", "Token ids, rows separated by ';' (e.g. \"0,1,2;3,4,5\")")
	cmd.Flags().String("segments", "", "Segment ids shaped like --ids")
	cmd.Flags().Int("past", 0, "Number of previously consumed positions")
	cmd.Flags().Bool("json", false, "Print the output as JSON")
	_ = cmd.MarkFlagRequired("ids")
	return cmd
}

func newDescribeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Show the tables of a configured layer",
		Args:  cobra.NoArgs,
		RunE:  DescribeHandler,
	}
	addLayerFlags(cmd)
	cmd.Flags().Bool("json", false, "Print telemetry as JSON")
	return cmd
}

func newReplicasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replicas",
		Short: "Run concurrent forward passes on cloned layers and compare them",
		Args:  cobra.NoArgs,
		RunE:  ReplicasHandler,
	}
	addLayerFlags(cmd)
	cmd.Flags().String("ids", "", "Token ids, rows separated by ';'")
	cmd.Flags().IntP("replicas", "n", 4, "Number of replicas")
	_ = cmd.MarkFlagRequired("ids")
	return cmd
}

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Show LOOM_* environment settings",
		Args:  cobra.NoArgs,
		RunE:  EnvHandler,
	}
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "Report the WebGPU adapter",
		Args:  cobra.NoArgs,
		RunE:  DevicesHandler,
	}
}

func addLayerFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "Layer config file (YAML or JSON)")
	cmd.Flags().Uint64("seed", 0, "Initializer seed (overrides LOOM_SEED)")
	_ = cmd.MarkFlagRequired("config")
}

// loadLayer builds the layer named by --config. LOOM_DTYPE overrides the
// file's dtype and LOOM_DEVICE fills in a missing device.
func loadLayer(cmd *cobra.Command) (*nn.EmbeddingLayer, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := nn.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if s := envconfig.DType(); s != "" {
		if cfg.DType, err = nn.ParseDType(s); err != nil {
			return nil, fmt.Errorf("LOOM_DTYPE: %w", err)
		}
	}
	if cfg.Device == "" {
		if cfg.Device, err = nn.ParseDevice(envconfig.Device()); err != nil {
			return nil, fmt.Errorf("LOOM_DEVICE: %w", err)
		}
	}

	backend, err := gpu.BackendFor(cfg.Device)
	if err != nil {
		return nil, err
	}

	opts := []nn.Option{nn.WithBackend(backend), nn.WithLogger(slog.Default())}
	if cmd.Flags().Changed("seed") {
		seed, _ := cmd.Flags().GetUint64("seed")
		opts = append(opts, nn.WithResolver(nn.NewResolver(seed)))
	} else if seed, ok := envconfig.Seed(); ok {
		opts = append(opts, nn.WithResolver(nn.NewResolver(seed)))
	}
	return nn.NewEmbeddingLayer(cfg, opts...)
}

// parseIDs parses "0,1,2;3,4,5" into row-major ids and their [rows, cols] shape.
func parseIDs(s string) (*nn.Tensor[int64], error) {
	var data []int64
	rows := strings.Split(strings.TrimSpace(s), ";")
	cols := -1
	for r, row := range rows {
		fields := strings.Split(row, ",")
		if cols >= 0 && len(fields) != cols {
			return nil, fmt.Errorf("row %d has %d ids, want %d", r, len(fields), cols)
		}
		cols = len(fields)
		for _, f := range fields {
			id, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", r, err)
			}
			data = append(data, id)
		}
	}
	return nn.NewTensorFromSlice(data, len(rows), cols), nil
}
