package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/payrun/internal/app"
	"github.com/ternarybob/payrun/internal/common"
)

// errTestCasesFailed makes the process exit 1 without printing an error line;
// the per-case report has already been printed
var errTestCasesFailed = errors.New("one or more test cases failed")

var (
	configFiles []string
	casesFile   string
	outputDir   string
	concurrency int
	noVideo     bool
	sweepOnly   bool
	onlyIDs     []string
)

var rootCmd = &cobra.Command{
	Use:   "payrun",
	Short: "Run checkout end-to-end test cases concurrently",
	Long: `Payrun runs independent checkout test cases in parallel. Every test case
gets its own artifact bundle: logs.txt, screenshots, a frame-capture video
and a row in the run's results.json.`,
	Version:       common.GetVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runSuite,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringArrayVarP(&configFiles, "config", "c", nil, "Configuration file path (repeatable, later files override earlier ones)")
	flags.StringVar(&casesFile, "cases", "", "Test case catalogue (overrides runner.cases_file)")
	flags.StringVarP(&outputDir, "output", "o", "", "Output directory (overrides runner.output_dir)")
	flags.IntVarP(&concurrency, "concurrency", "n", 0, "Test cases run in parallel (overrides runner.concurrency)")
	flags.BoolVar(&noVideo, "no-video", false, "Disable frame-capture videos")
	flags.BoolVar(&sweepOnly, "sweep-only", false, "Apply retention to the output directory and exit")
	flags.StringSliceVar(&onlyIDs, "only", nil, "Run only these test case ids (comma separated)")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig runs the startup sequence: defaults -> files -> env -> flags, then logger
func loadConfig() (*common.Config, arbor.ILogger, error) {
	paths := configFiles
	if len(paths) == 0 {
		// Current directory first, then the deployments/local layout
		for _, candidate := range []string{"payrun.toml", "deployments/local/payrun.toml"} {
			if common.FileExists(candidate) {
				paths = append(paths, candidate)
				break
			}
		}
	}

	config, err := common.LoadFromFiles(paths...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration %v: %w", paths, err)
	}

	common.ApplyFlagOverrides(config, outputDir, concurrency, noVideo)
	if err := config.Validate(); err != nil {
		return nil, nil, err
	}

	logger := common.InitLogger(config)
	logger.Debug().
		Strs("config_files", paths).
		Str("output_dir", config.Runner.OutputDir).
		Str("log_level", config.Logging.Level).
		Strs("log_output", config.Logging.Output).
		Msg("Resolved configuration")

	return config, logger, nil
}

func runSuite(cmd *cobra.Command, args []string) error {
	config, logger, err := loadConfig()
	if err != nil {
		return err
	}
	common.InstallCrashHandler(config.Logging.Dir)

	logger.Info().
		Str("version", common.GetFullVersion()).
		Msg("Payrun starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(config, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize runner: %w", err)
	}
	defer application.Close()

	if sweepOnly {
		result := application.Sweep(ctx)
		if result == nil {
			return errors.New("retention sweep failed")
		}
		fmt.Printf("Deleted %d run(s), kept %d, freed %d bytes\n", len(result.Deleted), len(result.Kept), result.BytesFreed)
		for _, name := range result.Failed {
			fmt.Printf("  failed: %s\n", name)
		}
		return nil
	}

	path := casesFile
	if path == "" {
		path = config.Runner.CasesFile
	}
	catalogue, err := app.LoadCatalogue(path, logger)
	if err != nil {
		return err
	}
	cases, err := app.Select(catalogue, onlyIDs)
	if err != nil {
		return err
	}

	if err := application.StartScheduler(); err != nil {
		logger.Warn().Err(err).Msg("Retention scheduler not started")
	}

	report, err := application.Run(ctx, cases)
	if err != nil {
		return err
	}

	printReport(report)

	if ctx.Err() != nil {
		logger.Warn().Msg("Run interrupted")
	}
	if !report.Passed() {
		return errTestCasesFailed
	}
	return nil
}

func printReport(report *app.Report) {
	fmt.Printf("\nRun %s\n", report.RunID)
	for _, row := range report.Results {
		video := "-"
		if row.VideoOK {
			video = "video"
		}
		fmt.Printf("  %-28s %-6s %s\n", row.TestCaseID, video, row.StatusString())
	}
	fmt.Printf("%d passed, %d failed, %d total in %s\n",
		report.Summary.Passed, report.Summary.Failed, report.Summary.Total, report.Summary.Duration.Round(time.Millisecond))
}
