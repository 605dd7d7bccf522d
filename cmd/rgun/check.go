package main

import (
	"github.com/spf13/cobra"
	"pkt.systems/railgun"
	"pkt.systems/railgun/internal/testrail"
)

func newCheckCmd() *cobra.Command {
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate config and print the resolved case mapping",
		Args:  cobra.NoArgs,
		RunE:  checkE,
	}

	addLoggingFlags(checkCmd.Flags())
	checkCmd.Flags().StringP("config", "c", "", "Path to TestRail YAML config")
	checkCmd.Flags().StringP("mapping", "m", "", "Path to YAML mapping file")
	checkCmd.Flags().Bool("probe", false, "Verify a configured run_id is reachable (one GET)")

	return checkCmd
}

func checkE(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	mappingPath, _ := cmd.Flags().GetString("mapping")
	probe, _ := cmd.Flags().GetBool("probe")

	logger := loggerFromCmd(cmd)

	if configPath == "" {
		logger.Fatal("--config is required")
		return nil
	}
	cfg, err := railgun.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("config", "err", err)
		return nil
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("config invalid", "err", err)
		return nil
	}
	logger.Info("config ok", "base_url", cfg.BaseURL, "project_id", cfg.ProjectID, "suite_id", cfg.SuiteID)

	if mappingPath == "" {
		mappingPath = cfg.MappingFile
	}
	if mappingPath != "" {
		m, err := railgun.LoadMappingFile(mappingPath)
		if err != nil {
			logger.Fatal("mapping", "path", mappingPath, "err", err)
			return nil
		}
		m.WriteTable(cmd.OutOrStdout())
		logger.Info("mapping ok", "tests", m.Len(), "cases", len(m.AllCaseIDs()), "duplicates", len(m.Duplicates()))
	}

	if probe {
		if cfg.RunID <= 0 {
			logger.Fatal("--probe requires run_id in the config")
			return nil
		}
		client := testrail.NewClient(cfg.BaseURL, cfg.Username, cfg.APIKey, testrail.WithLogger(logger))
		run, err := client.GetRun(cmd.Context(), cfg.RunID)
		if err != nil {
			logger.Fatal("probe", "run_id", cfg.RunID, "err", err)
			return nil
		}
		if run.IsCompleted {
			logger.Fatal("run is already closed", "run_id", run.ID)
			return nil
		}
		logger.Info("run reachable", "run_id", run.ID, "name", run.Name)
	}
	return nil
}
