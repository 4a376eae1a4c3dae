package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"lakeloader/internal/config"
	"lakeloader/internal/facts"
	"lakeloader/internal/pipeline"
	"lakeloader/internal/rawzone"
	"lakeloader/internal/registry"
	"lakeloader/internal/security"
	"lakeloader/internal/ui"
	"lakeloader/internal/warehouse"
	"lakeloader/internal/watermark"
	"lakeloader/pkg/models"
)

var (
	loadSource string
	loadBatch  string
	loadAsOf   string
	loadLocal  bool
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Run one load cycle for a landed batch",
	Long: "Reads the landed bronze batch for every table registered to the " +
		"source system, merges dimension history and swaps fact partitions.",
	RunE: runLoad,
}

func init() {
	loadCmd.Flags().StringVar(&loadSource, "source", "", "source system of the landed batch")
	loadCmd.Flags().StringVar(&loadBatch, "batch", "", "batch id supplied by the scheduler")
	loadCmd.Flags().StringVar(&loadAsOf, "as-of", "", "effective date of the cycle (YYYY-MM-DD, default today)")
	loadCmd.Flags().BoolVar(&loadLocal, "local", false, "load into the in-process partition store instead of the warehouse")
	_ = loadCmd.MarkFlagRequired("source")
	_ = loadCmd.MarkFlagRequired("batch")
	rootCmd.AddCommand(loadCmd)
}

func runLoad(cmd *cobra.Command, args []string) error {
	asOf := time.Now().UTC().Truncate(24 * time.Hour)
	if loadAsOf != "" {
		parsed, err := time.Parse("2006-01-02", loadAsOf)
		if err != nil {
			return fmt.Errorf("invalid --as-of date %q: %w", loadAsOf, err)
		}
		asOf = parsed
	}

	cfg, err := config.Load()
	if err != nil {
		ui.ShowError(err)
		return err
	}
	if cfg.Zones.Bronze == "" {
		return fmt.Errorf("bronze zone path not configured, run 'lakeloader setup' first")
	}

	reg, err := buildRegistry(cmd.Context(), cfg)
	if err != nil {
		ui.ShowError(err)
		return err
	}

	swapper, cleanup, err := buildSwapper(cmd.Context(), cfg, reg)
	if err != nil {
		ui.ShowError(err)
		return err
	}
	defer cleanup()

	marks, err := watermark.NewStore(cfg.Load.WatermarkFile)
	if err != nil {
		ui.ShowError(err)
		return err
	}

	reader := rawzone.NewReader(cfg.Zones.Bronze, 0, nil)
	p := pipeline.New(reg, reader, swapper, marks, nil, cfg.Load.Workers)

	ui.ShowHeader("Load Cycle")
	report, err := p.Run(cmd.Context(), loadSource, loadBatch, asOf)
	if err != nil {
		ui.ShowError(err)
		os.Exit(1)
	}

	fmt.Println(report.Render())

	if report.Failed() {
		color.Red("Cycle finished with failed tables")
		os.Exit(1)
	}
	color.Green("Cycle %s completed", report.CycleID)
	return nil
}

// buildRegistry resolves table definitions: inline tables win, then a git
// schema source, then a local definitions directory
func buildRegistry(ctx context.Context, cfg *models.Config) (*registry.Registry, error) {
	defs := cfg.Tables
	if len(defs) == 0 {
		var err error
		switch {
		case cfg.Schema.GitURL != "":
			defs, err = registry.LoadDefsGit(ctx, cfg.Schema.GitURL, cfg.Schema.GitRef)
		case cfg.Schema.Path != "":
			defs, err = registry.LoadDefsDir(cfg.Schema.Path)
		default:
			return nil, fmt.Errorf("no table definitions configured")
		}
		if err != nil {
			return nil, err
		}
	}
	return registry.New(defs)
}

// buildSwapper connects the warehouse unless a local run was requested
func buildSwapper(ctx context.Context, cfg *models.Config, reg *registry.Registry) (facts.Swapper, func(), error) {
	if loadLocal || cfg.Warehouse.Account == "" {
		if !loadLocal {
			ui.ShowWarning("no warehouse account configured, loading into the in-process store")
		}
		return facts.NewMemoryPartitionStore(), func() {}, nil
	}

	password, err := warehousePassword(cfg)
	if err != nil {
		return nil, nil, err
	}

	svc := warehouse.NewService(warehouse.Config{
		Account:   cfg.Warehouse.Account,
		Username:  cfg.Warehouse.Username,
		Password:  password,
		Database:  cfg.Warehouse.Database,
		Schema:    cfg.Warehouse.Schema,
		Warehouse: cfg.Warehouse.Warehouse,
		Role:      cfg.Warehouse.Role,
		Timeout:   time.Duration(cfg.Warehouse.TimeoutSec) * time.Second,
	}, reg, nil)

	if err := svc.Connect(ctx); err != nil {
		return nil, nil, err
	}

	for _, desc := range reg.Tables() {
		if err := svc.EnsureTable(ctx, desc.Name); err != nil {
			svc.Close()
			return nil, nil, err
		}
	}

	return svc, func() { svc.Close() }, nil
}

func warehousePassword(cfg *models.Config) (string, error) {
	if cfg.Warehouse.UseKeyring {
		return security.GetWarehousePassword(cfg.Warehouse.Account, cfg.Warehouse.Username)
	}
	return config.DecryptPassword(cfg.Warehouse.Password)
}
