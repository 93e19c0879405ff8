package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/strukt-lab/trussopt/internal/config"
	"github.com/strukt-lab/trussopt/internal/export"
	"github.com/strukt-lab/trussopt/internal/sim"
	"github.com/strukt-lab/trussopt/internal/telemetry"
)

var version = "dev"

var (
	dataDir    string
	designFile string
	seed       int64
	maxTicks   int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "trussopt",
		Short: "topology optimization for mass-spring lattices",
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "data", "data directory")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run a design to its stop criterion",
		RunE:  runDesign,
	}
	runCmd.Flags().StringVar(&designFile, "design", "design.yml", "design file path (yaml)")
	runCmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed")
	runCmd.Flags().IntVar(&maxTicks, "max-ticks", 0, "tick cap, 0 for unlimited")

	plotCmd := &cobra.Command{
		Use:   "plot [column]",
		Short: "plot a metric column from optMetrics.csv",
		Args:  cobra.MaximumNArgs(1),
		RunE:  plotMetrics,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("trussopt", version)
		},
	}

	rootCmd.AddCommand(runCmd, plotCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDesign(cmd *cobra.Command, args []string) error {
	design, err := config.Load(designFile)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(seed))
	simulation, cfg, err := config.Build(design, rng)
	if err != nil {
		return err
	}

	out, err := telemetry.NewOutput(dataDir)
	if err != nil {
		return err
	}
	defer out.Close()

	driver, err := sim.NewDriver(simulation, cfg, rng, out)
	if err != nil {
		return err
	}
	worker := export.NewWorker(dataDir, 32)
	driver.Exporter = worker

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	ticks := 0
	for driver.Status() != sim.Stopped {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := driver.RunTick(); err != nil {
			return err
		}
		ticks++
		if maxTicks > 0 && ticks >= maxTicks {
			break
		}
	}
	worker.Wait()

	length, lengthStart := driver.TotalLength()
	fmt.Printf("status: %s\n", driver.Status())
	fmt.Printf("ticks: %d  optimizations: %d\n", ticks, driver.Optimized())
	fmt.Printf("weight: %.4f of %.4f  bars: %d\n", length, lengthStart, len(simulation.Springs))
	return nil
}

func plotMetrics(cmd *cobra.Command, args []string) error {
	column := "Total Weight"
	if len(args) == 1 {
		column = args[0]
	}

	f, err := os.Open(filepath.Join(dataDir, "optMetrics.csv"))
	if err != nil {
		return err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return err
	}
	if len(records) < 2 {
		return fmt.Errorf("no metric rows in %s", dataDir)
	}

	col := -1
	for i, name := range records[0] {
		if name == column {
			col = i
		}
	}
	if col < 0 {
		return fmt.Errorf("unknown column %q, header is %v", column, records[0])
	}

	data := make([]float64, 0, len(records)-1)
	for _, rec := range records[1:] {
		v, err := strconv.ParseFloat(rec[col], 64)
		if err != nil {
			continue
		}
		data = append(data, v)
	}

	fmt.Println(asciigraph.Plot(data,
		asciigraph.Height(20),
		asciigraph.Caption(column)))
	return nil
}
