package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/san-kum/mdstep/internal/config"
	"github.com/san-kum/mdstep/internal/export"
	"github.com/san-kum/mdstep/internal/runner"
	"github.com/san-kum/mdstep/internal/storage"
	"github.com/san-kum/mdstep/internal/tui"
	"github.com/spf13/cobra"
)

var (
	dataDir     string
	configFile  string
	waters      int
	boxLength   float64
	dt          float64
	steps       int
	seed        int64
	temperature float64
	noCoupling  bool
	outFile     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mdstep",
		Short: "rigid water molecular dynamics lab",
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".mdstep", "data directory")

	runCmd := &cobra.Command{
		Use:   "run [name]",
		Short: "run a simulation and store the result",
		Args:  cobra.ExactArgs(1),
		RunE:  runSimulation,
	}
	addRunFlags(runCmd)

	liveCmd := &cobra.Command{
		Use:   "live",
		Short: "run a simulation with a live terminal view",
		RunE:  runLive,
	}
	addRunFlags(liveCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [name]",
		Short: "plot a stored run in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	exportCmd := &cobra.Command{
		Use:   "export [name]",
		Short: "export a stored run to a PNG",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}
	exportCmd.Flags().StringVar(&outFile, "out", "", "output path (default <name>.png)")

	rootCmd.AddCommand(runCmd, liveCmd, listCmd, plotCmd, exportCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().IntVar(&waters, "waters", config.DefaultWaters, "number of water molecules")
	cmd.Flags().Float64Var(&boxLength, "box", config.DefaultBoxLength, "cubic box edge length (nm)")
	cmd.Flags().Float64Var(&dt, "dt", config.DefaultDt, "timestep (ps)")
	cmd.Flags().IntVar(&steps, "steps", config.DefaultSteps, "number of steps")
	cmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed")
	cmd.Flags().Float64Var(&temperature, "temp", config.DefaultTemperature, "target temperature (K)")
	cmd.Flags().BoolVar(&noCoupling, "no-coupling", false, "disable temperature coupling")
}

// buildConfig layers the config file under any explicitly set flags.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if cmd.Flags().Changed("waters") {
		cfg.Waters = waters
	}
	if cmd.Flags().Changed("box") {
		cfg.Box = [3]float64{boxLength, boxLength, boxLength}
	}
	if cmd.Flags().Changed("dt") {
		cfg.Dt = dt
	}
	if cmd.Flags().Changed("steps") {
		cfg.Steps = steps
	}
	if cmd.Flags().Changed("seed") || cfg.Seed == 0 {
		cfg.Seed = seed
	}
	if cmd.Flags().Changed("temp") {
		cfg.Temperature = temperature
	}
	if noCoupling {
		cfg.TempCouple = false
	}
	return cfg, cfg.Validate()
}

func runSimulation(cmd *cobra.Command, args []string) error {
	name := args[0]

	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	store, err := storage.New(dataDir)
	if err != nil {
		return err
	}

	r, err := runner.New(cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("running %d waters for %d steps...\n", cfg.Waters, cfg.Steps)
	start := time.Now()

	report := cfg.Steps / 10
	if report < 1 {
		report = 1
	}
	result, err := r.Run(ctx, func(info runner.StepInfo) bool {
		if (info.Step+1)%report == 0 {
			fmt.Printf("  step %6d  T=%.1fK  rmsd=%.2e\n",
				info.Step+1, info.Temperature, info.RMSD)
		}
		return true
	})
	if err != nil && err != context.Canceled {
		return err
	}
	elapsed := time.Since(start)

	if err := store.Save(name, cfg, result); err != nil {
		return err
	}

	fmt.Printf("completed %d steps in %v\n", result.StepsTaken, elapsed)
	fmt.Printf("run: %s\n", name)
	if n := len(result.Temperatures); n > 0 {
		fmt.Printf("final temperature: %.1f K\n", result.Temperatures[n-1])
		fmt.Printf("final pressure: %.3f\n", result.Pressures[n-1])
	}
	return nil
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	r, err := runner.New(cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	return tui.Run(cfg, r)
}

func listRuns(cmd *cobra.Command, args []string) error {
	store, err := storage.New(dataDir)
	if err != nil {
		return err
	}

	runs, err := store.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTIME\tWATERS\tSTEPS\tDT\tFINAL_T")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.4f\t%.1fK\n",
			run.Name,
			run.CreatedAt.Format("2006-01-02 15:04:05"),
			run.Waters,
			run.Steps,
			run.Dt,
			run.FinalTemp,
		)
	}
	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	name := args[0]

	store, err := storage.New(dataDir)
	if err != nil {
		return err
	}
	series, err := store.LoadSeries(name)
	if err != nil {
		return err
	}
	if len(series.Times) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", name)
	fmt.Printf("samples: %d\n\n", len(series.Times))

	traces := []struct {
		data    []float64
		caption string
	}{
		{series.Temperatures, "temperature (K)"},
		{series.Pressures, "constraint pressure"},
		{series.Energies, "potential energy (kJ/mol)"},
	}
	for _, tr := range traces {
		graph := asciigraph.Plot(tr.data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(tr.caption),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	name := args[0]

	store, err := storage.New(dataDir)
	if err != nil {
		return err
	}
	series, err := store.LoadSeries(name)
	if err != nil {
		return err
	}

	path := outFile
	if path == "" {
		path = name + ".png"
	}
	if err := export.SeriesPlot(path, name, series); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
