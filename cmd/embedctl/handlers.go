package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/openfluke/loom-embedding/envconfig"
	"github.com/openfluke/loom-embedding/gpu"
	"github.com/openfluke/loom-embedding/nn"
)

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

func formatRow(prefix []string, values []float32) []string {
	row := append([]string(nil), prefix...)
	for _, v := range values {
		row = append(row, strconv.FormatFloat(float64(v), 'f', 6, 32))
	}
	return row
}

func columnHeader(prefix []string, width int) []string {
	header := append([]string(nil), prefix...)
	for i := 0; i < width; i++ {
		header = append(header, strconv.Itoa(i))
	}
	return header
}

// SynthesizeHandler prints a fixed position table.
func SynthesizeHandler(cmd *cobra.Command, args []string) error {
	seq, _ := cmd.Flags().GetInt("seq")
	dim, _ := cmd.Flags().GetInt("dim")
	minTS, _ := cmd.Flags().GetFloat64("min")
	maxTS, _ := cmd.Flags().GetFloat64("max")
	if seq <= 0 || dim <= 0 {
		return fmt.Errorf("--seq and --dim must be positive")
	}
	if minTS <= 0 || maxTS <= 0 {
		return fmt.Errorf("--min and --max must be positive")
	}

	table := nn.SynthesizeSinusoidal(seq, dim, minTS, maxTS)
	t := newTable(cmd.OutOrStdout(), columnHeader([]string{"POS"}, dim))
	for p := 0; p < seq; p++ {
		row, _ := table.Row(p)
		t.Append(formatRow([]string{strconv.Itoa(p)}, row))
	}
	t.Render()
	return nil
}

// ForwardHandler embeds --ids and prints one row per token.
func ForwardHandler(cmd *cobra.Command, args []string) error {
	layer, err := loadLayer(cmd)
	if err != nil {
		return err
	}

	idsFlag, _ := cmd.Flags().GetString("ids")
	ids, err := parseIDs(idsFlag)
	if err != nil {
		return fmt.Errorf("--ids: %w", err)
	}

	var segments nn.Indexer
	if s, _ := cmd.Flags().GetString("segments"); s != "" {
		seg, err := parseIDs(s)
		if err != nil {
			return fmt.Errorf("--segments: %w", err)
		}
		segments = seg
	}
	past, _ := cmd.Flags().GetInt("past")

	out, err := layer.Forward(ids, segments, past)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		return enc.Encode(map[string]any{"shape": out.Shape, "dtype": out.DType.String(), "data": out.Data})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "shape %v dtype %s device %s\n", out.Shape, out.DType, out.Device)
	dim := out.Dim(-1)
	seqLen := out.Dim(1)
	t := newTable(cmd.OutOrStdout(), columnHeader([]string{"BATCH", "POS", "ID"}, dim))
	for i := 0; i < out.Size()/dim; i++ {
		prefix := []string{strconv.Itoa(i / seqLen), strconv.Itoa(i%seqLen + past), strconv.FormatInt(ids.Data[i], 10)}
		t.Append(formatRow(prefix, out.Data[i*dim:(i+1)*dim]))
	}
	t.Render()
	return nil
}

// DescribeHandler prints the tables of a layer.
func DescribeHandler(cmd *cobra.Command, args []string) error {
	layer, err := loadLayer(cmd)
	if err != nil {
		return err
	}
	tel := nn.Describe(layer)

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(tel)
	}

	var data [][]string
	for _, tt := range tel.Tables {
		data = append(data, []string{
			tt.Name,
			fmt.Sprintf("%v", tt.Shape),
			strconv.FormatBool(tt.Trainable),
			strconv.Itoa(tt.Parameters),
			strconv.FormatFloat(float64(tt.Min), 'g', 4, 32),
			strconv.FormatFloat(float64(tt.Max), 'g', 4, 32),
			strconv.FormatFloat(tt.Mean, 'g', 4, 64),
		})
	}
	t := newTable(cmd.OutOrStdout(), []string{"TABLE", "SHAPE", "TRAINABLE", "PARAMS", "MIN", "MAX", "MEAN"})
	t.AppendBulk(data)
	t.Render()

	fmt.Fprintf(cmd.OutOrStdout(), "positions %s, dtype %s, backend %s, %d parameters\n",
		tel.PositionEmbeddingType, tel.DType, tel.Backend, tel.TotalParams)
	return nil
}

// ReplicasHandler runs cloned layers concurrently and checks they agree.
func ReplicasHandler(cmd *cobra.Command, args []string) error {
	layer, err := loadLayer(cmd)
	if err != nil {
		return err
	}
	idsFlag, _ := cmd.Flags().GetString("ids")
	ids, err := parseIDs(idsFlag)
	if err != nil {
		return fmt.Errorf("--ids: %w", err)
	}
	n, _ := cmd.Flags().GetInt("replicas")
	if n <= 0 {
		return fmt.Errorf("--replicas must be positive")
	}

	outs := make([][]float64, n)
	g, _ := errgroup.WithContext(cmd.Context())
	for i := 0; i < n; i++ {
		i := i
		replica := layer.Clone()
		g.Go(func() error {
			out, err := replica.Forward(ids, nil, 0)
			if err != nil {
				return fmt.Errorf("replica %d: %w", i, err)
			}
			outs[i] = make([]float64, out.Size())
			for j, v := range out.Data {
				outs[i][j] = float64(v)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	t := newTable(cmd.OutOrStdout(), []string{"REPLICA", "MAX |DIFF| VS 0", "NORM"})
	worst := 0.0
	for i, out := range outs {
		d := floats.Distance(outs[0], out, math.Inf(1))
		worst = math.Max(worst, d)
		t.Append([]string{strconv.Itoa(i), strconv.FormatFloat(d, 'g', 4, 64), strconv.FormatFloat(floats.Norm(out, 2), 'g', 6, 64)})
	}
	t.Render()

	if worst != 0 {
		return fmt.Errorf("replicas disagree by up to %g", worst)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d replicas agree\n", n)
	return nil
}

// EnvHandler prints the LOOM_* settings.
func EnvHandler(cmd *cobra.Command, args []string) error {
	vars := envconfig.AsMap()
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := newTable(cmd.OutOrStdout(), []string{"NAME", "VALUE", "DESCRIPTION"})
	for _, k := range keys {
		v := vars[k]
		t.Append([]string{v.Name, fmt.Sprintf("%v", v.Value), v.Description})
	}
	t.Render()
	return nil
}

// DevicesHandler prints the adapter report.
func DevicesHandler(cmd *cobra.Command, args []string) error {
	rep, err := gpu.Detect()
	if err != nil {
		return err
	}
	s, err := rep.JSON()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), s)
	return nil
}
