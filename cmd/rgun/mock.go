package main

import (
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"pkt.systems/railgun/internal/trmock"
)

// Development aid: a local TestRail lookalike for exercising the report
// command without a real installation.
func newMockCmd() *cobra.Command {
	mockCmd := &cobra.Command{
		Use:    "mock",
		Short:  "Run a local mock TestRail server",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE:   mockE,
	}
	addLoggingFlags(mockCmd.Flags())
	mockCmd.Flags().String("addr", "127.0.0.1:8787", "Listen address")
	return mockCmd
}

func mockE(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	logger := loggerFromCmd(cmd)

	srv := &http.Server{
		Addr:              addr,
		Handler:           trmock.New(logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("mock testrail listening", "addr", addr)
	return srv.ListenAndServe()
}
