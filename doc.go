// Package railgun reports Go test results to TestRail in near real time.
//
// It consumes `go test -json` streams and submits one result per mapped
// TestRail case as each test finishes. Case IDs come from name annotations
// (TestLogin_C1234) or a YAML mapping file.
//
// Quick start:
//
//	cfg, _ := railgun.LoadConfig("testrail.yml")
//	s, _ := railgun.New(ctx, railgun.Options{Config: cfg})
//	_ = s.Start(ctx)
//	_ = s.Record(ctx, railgun.TestResult{
//		ID:      "example.com/pkg.TestLogin_C1234",
//		Outcome: railgun.OutcomePassed,
//		Elapsed: 2 * time.Second,
//	})
//	sum, _ := s.Close(ctx)
//
// Hooks:
//
//	s, _ := railgun.New(ctx, opts,
//		railgun.WithPreSubmitHook(func(ctx context.Context, info *railgun.SubmitInfo, log pslog.Base) error {
//			info.Comment = "build 1234\n" + info.Comment
//			return nil
//		}),
//		railgun.WithPostSubmitHook(func(ctx context.Context, info railgun.SubmitInfo, err error, log pslog.Base) error {
//			if err != nil {
//				log.Warn("submit failed", "case_id", info.CaseID, "err", err)
//			}
//			return nil
//		}),
//	)
//
// Dry-run mode (Config.DryRun) performs no network calls at all; every
// would-be API call is logged instead. Transport knobs mirror the CLI:
//
//	custom := &http.Client{Timeout: 5 * time.Second}
//	s, _ := railgun.New(ctx, opts, railgun.WithHTTPClient(custom))
//
// The SDK keeps concrete types unexported; interaction happens through the
// Session interface plus Options and the result structs defined in this
// package.
package railgun
