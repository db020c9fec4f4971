package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/moldock/moldock/internal/log"
	"github.com/moldock/moldock/internal/model"
)

var (
	config model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag

	flagProtein    string
	flagLigandDB   string
	flagOutput     string
	flagDockHome   string
	flagHemeResNum string
	flagChain      string
	flagWorkers    int
	flagCondaEnv   string
	flagCondaBase  string
	flagTimeout    time.Duration
	flagKeepTemp   bool
)

func main() {
	// a .env next to the workdir may supply MOLDOCK_HOME / CONDA_BASE
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "YAML config file, flags take precedence over it")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	runCmd.Flags().StringVarP(&flagProtein, "protein", "p", "", "protein PDB file (with heme)")
	runCmd.Flags().StringVarP(&flagLigandDB, "ligand-db", "l", "", "multi-molecule ligand library, mol2")
	runCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "output directory")
	runCmd.Flags().StringVarP(&flagDockHome, "dock-home", "d", "", "GalaxyDock2 installation root (default: autodetect)")
	runCmd.Flags().StringVar(&flagHemeResNum, "heme-res-num", "", "heme residue number")
	runCmd.Flags().StringVar(&flagChain, "chain", "", "protein chain ID")
	runCmd.Flags().IntVarP(&flagWorkers, "workers", "n", model.DefaultWorkers, "parallel docking processes")
	runCmd.Flags().StringVar(&flagCondaEnv, "conda-env", model.DefaultCondaEnv, "conda environment holding the docking toolchain")
	runCmd.Flags().StringVar(&flagCondaBase, "conda-base", "", "conda installation root (default: autodetect)")
	runCmd.Flags().DurationVar(&flagTimeout, "timeout", model.DefaultTimeout, "wall clock budget of one docking run")
	runCmd.Flags().BoolVar(&flagKeepTemp, "keep-temp", false, "keep the split per-molecule mol2 files")

	historyCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "output directory holding the batch ledger")

	// never print messages
	rootCmd.SilenceErrors = true

	rootCmd.PersistentPreRunE = initMoldock

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("moldock failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "moldock",
	Short:        "Batch molecular docking orchestrator for GalaxyDock2 HEME",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run splits the ligand library and docks every molecule in parallel",
	RunE:  doRun,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "history lists the batches recorded in the output directory's ledger",
	RunE:  doHistory,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides the version of moldock",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("moldock: version info not available")
			return
		}
		fmt.Printf("moldock: %s\n", info.Main.Version)
		fmt.Printf("go:      %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:  %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:    %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:   %s\n", s.Value)
			}
		}
	},
}

func initMoldock(cmd *cobra.Command, _ []string) error {
	config = model.DefaultConfig()
	if flagConfigFilePath != "" {
		f, err := os.Open(flagConfigFilePath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		config, err = model.LoadConfig(f)
		if err != nil {
			return err
		}
	}

	// --verbose has precedence over the config file
	if flagVerbose {
		config.Verbose = true
	}
	slog.SetDefault(log.New(config.Verbose))

	slog.Debug("moldock starting", "configPath", flagConfigFilePath)
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func existsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
