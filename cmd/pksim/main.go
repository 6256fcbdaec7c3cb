package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/pksim/internal/config"
	"github.com/san-kum/pksim/internal/engine"
	"github.com/san-kum/pksim/internal/experiment"
	"github.com/san-kum/pksim/internal/export"
	"github.com/san-kum/pksim/internal/optim"
	"github.com/san-kum/pksim/internal/pkmodel"
	"github.com/san-kum/pksim/internal/storage"
	"github.com/san-kum/pksim/internal/tui"
	"github.com/san-kum/pksim/internal/viz"
)

var (
	dataDir  string
	logLevel string

	configFile  string
	preset      string
	integrator  string
	adaptive    bool
	dt          float64
	tolerance   float64
	end         float64
	delta       float64
	individuals int
	seed        int64
	workers     int
	progress    bool
	noSave      bool

	ev1, cent, periph float64
	eta1, eta2        float64

	plotOutput string
	plotCurves int
	exportPath string
	svgLogY    bool

	scanAxes   []string
	scanMetric string
	scanTarget float64
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pksim",
		Short: "two-compartment PK model with Michaelis-Menten clearance",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			logrus.SetLevel(level)
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".pksim", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "simulate a population and store the run",
		Args:  cobra.NoArgs,
		RunE:  runPopulation,
	}
	addConfigFlags(runCmd)
	runCmd.Flags().StringVar(&integrator, "integrator", config.DefaultIntegrator, "integrator (euler, rk4, rk45)")
	runCmd.Flags().BoolVar(&adaptive, "adaptive", true, "adaptive step size control")
	runCmd.Flags().Float64Var(&dt, "dt", config.DefaultDt, "initial or fixed step size")
	runCmd.Flags().Float64Var(&tolerance, "tol", config.DefaultTolerance, "error tolerance for adaptive stepping")
	runCmd.Flags().Float64Var(&end, "end", config.DefaultEnd, "last observation time")
	runCmd.Flags().Float64Var(&delta, "delta", config.DefaultDelta, "observation interval")
	runCmd.Flags().IntVar(&individuals, "individuals", config.DefaultIndividuals, "number of individuals")
	runCmd.Flags().Int64Var(&seed, "seed", config.DefaultSeed, "random seed")
	runCmd.Flags().IntVar(&workers, "workers", 0, "parallel workers (0 = all CPUs)")
	runCmd.Flags().BoolVar(&progress, "progress", false, "show a progress view")
	runCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")

	evalCmd := &cobra.Command{
		Use:   "eval",
		Short: "evaluate derived quantities and derivatives at one state",
		Args:  cobra.NoArgs,
		RunE:  evalModel,
	}
	addConfigFlags(evalCmd)
	evalCmd.Flags().Float64Var(&ev1, "ev1", 0, "amount in EV1")
	evalCmd.Flags().Float64Var(&cent, "cent", 0, "amount in CENT")
	evalCmd.Flags().Float64Var(&periph, "periph", 0, "amount in PERIPH")
	evalCmd.Flags().Float64Var(&eta1, "eta1", 0, "ETA on clearance")
	evalCmd.Flags().Float64Var(&eta2, "eta2", 0, "ETA on central volume")

	validateCmd := &cobra.Command{
		Use:   "validate [config]",
		Short: "check a config file without simulating",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if _, err := experiment.NewRegistry().Integrator(cfg.Run.Integrator); err != nil {
				return err
			}
			fmt.Printf("%s: ok (%s, %d individuals)\n", args[0], cfg.Model.Name, cfg.Run.Individuals)
			return nil
		},
	}

	presetsCmd := &cobra.Command{
		Use:   "presets [name]",
		Short: "list presets, or print one as YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				for _, name := range config.ListPresets() {
					fmt.Println(name)
				}
				return nil
			}
			cfg := config.GetPreset(args[0])
			if cfg == nil {
				return fmt.Errorf("unknown preset: %s (available: %v)", args[0], config.ListPresets())
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := storage.New(dataDir).List()
			if err != nil {
				return err
			}
			fmt.Println(viz.RunTable(runs))
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show [run_id]",
		Short: "summarize a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st := storage.New(dataDir)
			meta, err := st.Load(args[0])
			if err != nil {
				return err
			}
			obs, err := st.LoadObservations(args[0])
			if err != nil {
				logrus.Warnf("run %s: no observations: %v", args[0], err)
			}
			fmt.Println(viz.Summary(meta, obs))
			return nil
		},
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot concentration-time curves of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringVar(&plotOutput, "output", pkmodel.OutCP, "captured output to plot")
	plotCmd.Flags().IntVar(&plotCurves, "curves", 10, "maximum individual curves")

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export run data to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}
	exportJSONCmd.Flags().StringVarP(&exportPath, "out", "o", "", "output file (default stdout)")

	exportSVGCmd := &cobra.Command{
		Use:   "export-svg [run_id]",
		Short: "export concentration-time curves to SVG",
		Args:  cobra.ExactArgs(1),
		RunE:  exportSVG,
	}
	exportSVGCmd.Flags().StringVarP(&exportPath, "out", "o", "", "output file (default <run_id>.svg)")
	exportSVGCmd.Flags().StringVar(&plotOutput, "output", pkmodel.OutCP, "captured output to draw")
	exportSVGCmd.Flags().BoolVar(&svgLogY, "log", false, "logarithmic concentration axis")

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "evaluate a grid of doses or typical values",
		Long: `scan runs the configured population at every combination of the given
axes. An axis is "dose" (scales every dose) or a typical value such as TVKM.

  pksim scan --axis dose=0.5,1,2,4 --metric auc
  pksim scan --axis dose=1,2,4 --axis TVVMAX=5,10 --metric cmax --target 3`,
		Args: cobra.NoArgs,
		RunE: scanGrid,
	}
	addConfigFlags(scanCmd)
	scanCmd.Flags().StringArrayVar(&scanAxes, "axis", nil, "grid axis name=v1,v2,... (repeatable)")
	scanCmd.Flags().StringVar(&scanMetric, "metric", "auc", "metric to score (cmax, tmax, auc)")
	scanCmd.Flags().Float64Var(&scanTarget, "target", 0, "rank points by distance to this metric value")
	scanCmd.Flags().IntVar(&individuals, "individuals", 1, "individuals per grid point")
	scanCmd.Flags().Int64Var(&seed, "seed", config.DefaultSeed, "random seed")
	_ = scanCmd.MarkFlagRequired("axis")

	rootCmd.AddCommand(runCmd, evalCmd, validateCmd, presetsCmd, listCmd, showCmd, plotCmd, exportJSONCmd, exportSVGCmd, scanCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
}

// loadConfig resolves the preset, then the config file, then explicitly set flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("integrator") {
		cfg.Run.Integrator = integrator
	}
	if flags.Changed("adaptive") {
		cfg.Run.Adaptive = adaptive
	}
	if flags.Changed("dt") {
		cfg.Run.Dt = dt
	}
	if flags.Changed("tol") {
		cfg.Run.Tolerance = tolerance
	}
	if flags.Changed("end") {
		cfg.Run.End = end
	}
	if flags.Changed("delta") {
		cfg.Run.Delta = delta
	}
	if flags.Changed("individuals") {
		cfg.Run.Individuals = individuals
	}
	if flags.Changed("seed") {
		cfg.Run.Seed = seed
	}
	if flags.Changed("workers") {
		cfg.Run.Workers = workers
	}
	return cfg, nil
}

func runPopulation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	exp, err := experiment.New(cfg, experiment.NewRegistry())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var result *engine.Result
	if progress {
		result, err = tui.Run(ctx, cfg.Model.Name, cfg.Run.Individuals, func(ctx context.Context, o engine.Observer) (*engine.Result, error) {
			exp.AddObserver(o)
			return exp.Run(ctx)
		})
	} else {
		result, err = exp.Run(ctx)
	}
	if err != nil {
		return err
	}

	fmt.Printf("%d individuals simulated, %d failed, in %v\n", len(result.Profiles), len(result.Failures), result.Elapsed)
	means := storage.MeanMetrics(result.Profiles)
	names := make([]string, 0, len(means))
	for name := range means {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  mean %-6s %.4g\n", name, means[name])
	}

	if noSave {
		return nil
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	label := preset
	if label == "" {
		label = cfg.Model.Name
	}
	runID, err := st.Save(storage.Run{Preset: label, Config: cfg, Model: exp.Model(), Result: result})
	if err != nil {
		return err
	}
	fmt.Printf("run saved: %s\n", runID)
	return nil
}

func evalModel(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	model, err := cfg.BuildModel()
	if err != nil {
		return err
	}

	a := pkmodel.Amounts{EV1: ev1, CENT: cent, PERIPH: periph}
	return viz.EvalReport(os.Stdout, model, []float64{eta1, eta2}, a)
}

func plotRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	obs, err := st.LoadObservations(args[0])
	if err != nil {
		return err
	}

	opts := viz.DefaultPlotOptions()
	opts.Output = plotOutput
	opts.MaxCurves = plotCurves
	graph, err := viz.ConcentrationPlot(obs, opts)
	if err != nil {
		return err
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("model: %s\n\n", meta.Model)
	fmt.Println(graph)
	return nil
}

func exportJSON(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	if exportPath == "" {
		return st.ExportJSON(args[0], os.Stdout)
	}

	f, err := os.Create(exportPath)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := st.ExportJSON(args[0], f); err != nil {
		return err
	}
	fmt.Printf("exported to %s\n", exportPath)
	return nil
}

func exportSVG(cmd *cobra.Command, args []string) error {
	obs, err := storage.New(dataDir).LoadObservations(args[0])
	if err != nil {
		return err
	}

	opts := export.DefaultSVGOptions()
	opts.LogY = svgLogY
	svg, err := export.CurvesToSVG(export.ConcentrationCurves(obs, plotOutput), opts)
	if err != nil {
		return err
	}

	path := exportPath
	if path == "" {
		path = args[0] + ".svg"
	}
	if err := os.WriteFile(path, []byte(svg), 0644); err != nil {
		return err
	}
	fmt.Printf("exported to %s\n", path)
	return nil
}

func scanGrid(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("individuals") && configFile == "" {
		cfg.Run.Individuals = individuals
	}

	names := make([]string, len(scanAxes))
	ranges := make([][]float64, len(scanAxes))
	for i, a := range scanAxes {
		names[i], ranges[i], err = optim.ParseAxis(a)
		if err != nil {
			return err
		}
	}
	grid, err := optim.NewGridSearch(names, ranges)
	if err != nil {
		return err
	}

	objective := optim.Minimize
	if cmd.Flags().Changed("target") {
		objective = optim.Target(scanTarget)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	points, err := grid.Search(ctx, cfg, experiment.NewRegistry(), scanMetric, objective)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "POINT\tCMAX\tTMAX\tAUC\tFAILED\n")
	for _, p := range points {
		fmt.Fprintf(w, "%s\t%.4g\t%.4g\t%.4g\t%d\n",
			optim.FormatValues(p.Values), p.Metrics["cmax"], p.Metrics["tmax"], p.Metrics["auc"], p.Failed)
	}
	return w.Flush()
}
