package main

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"
	"pkt.systems/railgun"
)

func newReportCmd() *cobra.Command {
	reportCmd := &cobra.Command{
		Use:   "report [file]",
		Short: "Report a `go test -json` stream to TestRail",
		Long: "Reads a test2json event stream from stdin or a file and submits a result\n" +
			"for every mapped TestRail case as each test finishes.",
		Args: cobra.MaximumNArgs(1),
		RunE: reportE,
	}

	addLoggingFlags(reportCmd.Flags())
	reportCmd.Flags().StringP("config", "c", "", "Path to TestRail YAML config")
	reportCmd.Flags().Bool("dry-run", false, "Dry run mode: no API calls")
	reportCmd.Flags().Bool("log-mapping", false, "Log test-to-case-ID mapping")
	reportCmd.Flags().String("run-name", "", "Override TestRail run name")
	reportCmd.Flags().Int("run-id", 0, "Reuse an existing TestRail run instead of creating one")
	reportCmd.Flags().StringP("mapping", "m", "", "Path to YAML mapping file (cases: test -> [case IDs])")
	reportCmd.Flags().Int("timeout", 15, "Per-API-call timeout seconds")
	reportCmd.Flags().Bool("batch", false, "Buffer results and submit them in one call at the end")
	reportCmd.Flags().String("hook-script", "", "JS file run against each pending submission")
	reportCmd.Flags().String("run-pre-submit", "", "Executable (with args) to run before each submission")
	reportCmd.Flags().String("run-post-submit", "", "Executable (with args) to run after each submission")
	reportCmd.Flags().StringP("output", "o", "", "Write session summary to file (see --format)")
	reportCmd.Flags().StringP("format", "f", "json", "Output format: json|junit|html|xlsx")
	reportCmd.Flags().String("reporter-json", "", "Write JSON summary to path")
	reportCmd.Flags().String("reporter-junit", "", "Write JUnit XML summary to path")
	reportCmd.Flags().String("reporter-html", "", "Write HTML summary to path")
	reportCmd.Flags().String("reporter-xlsx", "", "Write XLSX summary to path")
	reportCmd.Flags().Bool("insecure", false, "Skip TLS verification")
	reportCmd.Flags().String("cacert", "", "Path to custom CA certificate (PEM)")
	reportCmd.Flags().Bool("noproxy", false, "Disable proxy (ignore environment)")

	return reportCmd
}

func newLogger(structured bool, level string, flagSet bool, caller bool, w io.Writer) (pslog.Logger, error) {
	if w == nil {
		w = os.Stdout
	}

	var logger pslog.Logger
	opts := pslog.Options{CallerKeyval: caller}
	if structured {
		opts.Mode = pslog.ModeStructured
	}
	logger = pslog.NewWithOptions(w, opts)

	logger = logger.LogLevel(pslog.InfoLevel)

	if flagSet {
		if lvl, ok := pslog.ParseLevel(level); ok {
			return logger.LogLevel(lvl), nil
		}
		return nil, fmt.Errorf("unknown level %q", level)
	}

	if lvl, ok := pslog.LevelFromEnv("LOG_LEVEL"); ok {
		return logger.LogLevel(lvl), nil
	}
	if lvl, ok := pslog.ParseLevel(level); ok {
		return logger.LogLevel(lvl), nil
	}
	return logger, nil
}

func reportE(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	logMapping, _ := cmd.Flags().GetBool("log-mapping")
	runName, _ := cmd.Flags().GetString("run-name")
	runID, _ := cmd.Flags().GetInt("run-id")
	mappingPath, _ := cmd.Flags().GetString("mapping")
	timeoutSec, _ := cmd.Flags().GetInt("timeout")
	batch, _ := cmd.Flags().GetBool("batch")
	hookScript, _ := cmd.Flags().GetString("hook-script")
	preSubmitCmd, _ := cmd.Flags().GetString("run-pre-submit")
	postSubmitCmd, _ := cmd.Flags().GetString("run-post-submit")
	output, _ := cmd.Flags().GetString("output")
	format, _ := cmd.Flags().GetString("format")
	reportJSON, _ := cmd.Flags().GetString("reporter-json")
	reportJUnit, _ := cmd.Flags().GetString("reporter-junit")
	reportHTML, _ := cmd.Flags().GetString("reporter-html")
	reportXLSX, _ := cmd.Flags().GetString("reporter-xlsx")
	insecure, _ := cmd.Flags().GetBool("insecure")
	cacert, _ := cmd.Flags().GetString("cacert")
	noProxy, _ := cmd.Flags().GetBool("noproxy")

	logger := loggerFromCmd(cmd)

	cfg, err := loadConfig(configPath, dryRun)
	if err != nil {
		logger.Fatal("config", "err", err)
		return nil
	}
	if dryRun {
		cfg.DryRun = true
	}
	if logMapping {
		cfg.LogMapping = true
	}
	if runID > 0 {
		cfg.RunID = runID
	}

	m := railgun.NewMapping()
	if mappingPath == "" {
		mappingPath = cfg.MappingFile
	}
	if mappingPath != "" {
		m, err = railgun.LoadMappingFile(mappingPath)
		if err != nil {
			logger.Fatal("mapping", "path", mappingPath, "err", err)
			return nil
		}
	}

	input := cmd.InOrStdin()
	if len(args) > 0 {
		f, err := os.Open(args[0])
		if err != nil {
			logger.Fatal("open stream", "path", args[0], "err", err)
			return nil
		}
		defer f.Close()
		input = f
	}

	httpClient, err := buildHTTPClient(insecure, cacert, noProxy)
	if err != nil {
		logger.Fatal("http client", "err", err)
		return nil
	}

	s, err := railgun.New(cmd.Context(), railgun.Options{
		Config:        cfg,
		Mapping:       m,
		RunName:       runName,
		Batch:         batch,
		HookScript:    hookScript,
		PreSubmitCmd:  splitCmd(preSubmitCmd),
		PostSubmitCmd: splitCmd(postSubmitCmd),
	},
		railgun.WithLogger(logger),
		railgun.WithHTTPClient(httpClient),
		railgun.WithTimeout(time.Duration(timeoutSec)*time.Second),
	)
	if err != nil {
		logger.Fatal("init", "err", err)
		return nil
	}

	// A failed Start disables reporting but the stream is still consumed, so
	// the local summary and exit code stay meaningful.
	if err := s.Start(cmd.Context()); err != nil {
		logger.Warn("reporting disabled", "err", err)
	}

	streamErr := railgun.ReportStream(cmd.Context(), input, s)

	sum, err := s.Close(cmd.Context())
	if err != nil {
		logger.Error("close", "err", err)
	}
	if streamErr != nil {
		logger.Fatal("stream", "err", streamErr)
		return nil
	}

	if err := writeOutputs(output, format, reportJSON, reportJUnit, reportHTML, reportXLSX, sum); err != nil {
		logger.Fatal("report", "err", err)
		return nil
	}

	printSummary(sum, logger)
	if sum.TestsFailed > 0 {
		logger.Fatal("tests failed", "count", sum.TestsFailed)
	}
	return nil
}

// loadConfig requires a config file except in dry-run mode, where everything
// stays local.
func loadConfig(path string, dryRun bool) (railgun.Config, error) {
	if path == "" {
		if dryRun {
			return railgun.Config{DryRun: true}, nil
		}
		return railgun.Config{}, fmt.Errorf("--config is required unless --dry-run is set")
	}
	return railgun.LoadConfig(path)
}

func buildHTTPClient(insecure bool, cacert string, noProxy bool) (*http.Client, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: insecure} //nolint:gosec // user opted in

	if cacert != "" {
		pemData, err := os.ReadFile(cacert)
		if err != nil {
			return nil, fmt.Errorf("read cacert: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if ok := pool.AppendCertsFromPEM(pemData); !ok {
			return nil, fmt.Errorf("failed to append CA cert")
		}
		tlsConfig.RootCAs = pool
	}

	tr := &http.Transport{
		TLSClientConfig: tlsConfig,
	}
	if !noProxy {
		tr.Proxy = http.ProxyFromEnvironment
	}

	return &http.Client{
		Transport: tr,
		Timeout:   15 * time.Second,
	}, nil
}

func splitCmd(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

func printSummary(sum railgun.Summary, logger pslog.Base) {
	logger.Info("summary",
		"run_id", sum.RunID,
		"tests", sum.TestsTotal,
		"passed", sum.TestsPassed,
		"failed", sum.TestsFailed,
		"skipped", sum.TestsSkipped,
		"submitted", sum.Submitted,
		"submit_failed", sum.SubmitFailed,
		"unmapped", sum.Unmapped,
		"elapsed", sum.TotalElapsed.String())
}

func writeOutputs(output, format, reportJSON, reportJUnit, reportHTML, reportXLSX string, sum railgun.Summary) error {
	if output != "" {
		if err := railgun.WriteReport(format, output, sum); err != nil {
			return err
		}
	}
	if reportJSON != "" {
		if err := railgun.WriteReportJSON(reportJSON, sum); err != nil {
			return err
		}
	}
	if reportJUnit != "" {
		if err := railgun.WriteReportJUnit(reportJUnit, sum); err != nil {
			return err
		}
	}
	if reportHTML != "" {
		if err := railgun.WriteReportHTML(reportHTML, sum); err != nil {
			return err
		}
	}
	if reportXLSX != "" {
		if err := railgun.WriteReportXLSX(reportXLSX, sum); err != nil {
			return err
		}
	}
	return nil
}
