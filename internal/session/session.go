// Package session orchestrates the TestRail reporting lifecycle: open (or
// adopt) a run, submit one result per mapped case as host tests finish,
// close the run. API failures degrade the session instead of failing the
// host test run.
package session

import (
	"context"
	"fmt"
	"os"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/railgun/internal/config"
	"pkt.systems/railgun/internal/mapping"
	"pkt.systems/railgun/internal/testrail"
)

type session struct {
	logger pslog.Base
	opts   Options
	client *testrail.Client

	hook     *hookScript
	preHook  PreSubmitHook
	postHook PostSubmitHook

	runID     int
	runName   string
	ownRun    bool // false when adopting a preexisting run_id
	caseList  []int
	caseSet   map[int]struct{}
	submitted map[string]struct{}
	batch     []testrail.CaseResult

	started  bool
	disabled bool
	closed   bool

	startTime time.Time
	summary   Summary
}

// New builds a Session from Options. In dry-run mode no API client is
// constructed, so no code path can reach the network.
func New(ctx context.Context, opts Options, o ...Option) (Session, error) {
	if ctx == nil {
		return nil, fmt.Errorf("nil context")
	}
	sc := sessionConfig{}
	for _, opt := range o {
		if opt != nil {
			opt(&sc)
		}
	}
	if sc.logger == nil {
		sc.logger = pslog.New(os.Stdout)
	}
	if opts.Mapping == nil {
		opts.Mapping = mapping.New()
	}
	if opts.MappingLog == nil {
		opts.MappingLog = os.Stdout
	}

	runName := opts.Config.RunName
	if opts.RunName != "" {
		runName = opts.RunName
	}
	if runName == "" {
		runName = config.DefaultRunName
	}

	s := &session{
		logger:    sc.logger,
		opts:      opts,
		preHook:   sc.preHook,
		postHook:  sc.postHook,
		runName:   runName,
		caseSet:   map[int]struct{}{},
		submitted: map[string]struct{}{},
	}

	if opts.HookScript != "" {
		hook, err := loadHookScript(opts.HookScript, sc.logger)
		if err != nil {
			return nil, err
		}
		s.hook = hook
	}

	if !opts.Config.DryRun {
		if err := opts.Config.Validate(); err != nil {
			return nil, err
		}
		var copts []testrail.ClientOption
		copts = append(copts, testrail.WithLogger(sc.logger))
		if sc.httpClient != nil {
			copts = append(copts, testrail.WithHTTPClient(sc.httpClient))
		}
		if sc.timeout > 0 {
			copts = append(copts, testrail.WithTimeout(sc.timeout))
		}
		s.client = testrail.NewClient(opts.Config.BaseURL, opts.Config.Username, opts.Config.APIKey, copts...)
	}

	return s, nil
}

func (s *session) Start(ctx context.Context) error {
	if s.started {
		return nil
	}
	s.started = true
	s.startTime = time.Now()
	s.summary.RunName = s.runName

	if s.opts.Config.LogMapping {
		s.opts.Mapping.WriteTable(s.opts.MappingLog)
	}

	if s.opts.Config.DryRun {
		s.logger.Info("dry-run: would create run and add mapped cases",
			"name", s.runName, "cases", len(s.opts.Mapping.AllCaseIDs()))
		return nil
	}

	if s.opts.Config.RunID > 0 {
		run, err := s.client.GetRun(ctx, s.opts.Config.RunID)
		if err != nil {
			s.disabled = true
			s.logger.Error("reporting disabled: run lookup failed", "run_id", s.opts.Config.RunID, "err", err)
			return fmt.Errorf("get run %d: %w", s.opts.Config.RunID, err)
		}
		if run.IsCompleted {
			s.disabled = true
			s.logger.Error("reporting disabled: run is already closed", "run_id", run.ID)
			return fmt.Errorf("run %d is already closed", run.ID)
		}
		s.runID = run.ID
		s.summary.RunID = run.ID
		s.logger.Info("reusing run", "run_id", run.ID, "name", run.Name)
		return nil
	}

	caseIDs := s.opts.Mapping.AllCaseIDs()
	run, err := s.client.AddRun(ctx, s.opts.Config.ProjectID, s.opts.Config.SuiteID, s.runName, caseIDs)
	if err != nil {
		s.disabled = true
		s.logger.Error("reporting disabled: run creation failed", "err", err)
		return fmt.Errorf("create run: %w", err)
	}
	s.runID = run.ID
	s.ownRun = true
	s.caseList = append(s.caseList, caseIDs...)
	for _, cid := range caseIDs {
		s.caseSet[cid] = struct{}{}
	}
	s.summary.RunID = run.ID
	s.logger.Info("run created", "run_id", run.ID, "name", s.runName, "cases", len(caseIDs))
	return nil
}

func (s *session) Record(ctx context.Context, res TestResult) error {
	if s.closed {
		return ErrClosed
	}
	if !s.started {
		return ErrNotStarted
	}

	s.summary.TestsTotal++
	switch res.Outcome {
	case OutcomeFailed:
		s.summary.TestsFailed++
	case OutcomeSkipped:
		s.summary.TestsSkipped++
	default:
		s.summary.TestsPassed++
	}

	caseIDs := s.opts.Mapping.CasesFor(res.ID)
	if len(caseIDs) == 0 {
		s.summary.Unmapped++
		s.logger.Debug("no case mapping", "test", res.ID)
		return nil
	}

	comment := res.Comment
	if comment == "" {
		comment = res.ID
	}

	for _, cid := range caseIDs {
		key := fmt.Sprintf("%s|%d", res.ID, cid)
		if _, done := s.submitted[key]; done {
			continue
		}
		s.submitted[key] = struct{}{}

		info := SubmitInfo{
			TestID:  res.ID,
			CaseID:  cid,
			Status:  res.Outcome.StatusID(),
			Comment: comment,
			Elapsed: res.Elapsed,
		}
		if err := s.applyHooks(ctx, &info); err != nil {
			return err
		}
		if info.Drop {
			s.summary.Dropped++
			s.summary.Cases = append(s.summary.Cases, record(info, false, true, ""))
			s.logger.Debug("result dropped by hook", "test", info.TestID, "case_id", info.CaseID)
			continue
		}

		submitErr := s.submit(ctx, info)
		if submitErr != nil {
			s.summary.SubmitFailed++
			s.summary.Cases = append(s.summary.Cases, record(info, false, false, submitErr.Error()))
			s.logger.Error("result submission failed", "test", info.TestID, "case_id", info.CaseID, "err", submitErr)
		} else {
			s.summary.Submitted++
			s.summary.Cases = append(s.summary.Cases, record(info, true, false, ""))
		}

		if err := s.afterSubmit(ctx, info, submitErr); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) applyHooks(ctx context.Context, info *SubmitInfo) error {
	if s.hook != nil {
		if err := s.hook.apply(info); err != nil {
			return fmt.Errorf("hook script: %w", err)
		}
	}
	if s.preHook != nil {
		if err := s.preHook(ctx, info, s.logger); err != nil {
			return err
		}
	}
	if len(s.opts.PreSubmitCmd) > 0 {
		if err := s.runExternalHook(ctx, "pre", s.opts.PreSubmitCmd, *info, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) afterSubmit(ctx context.Context, info SubmitInfo, submitErr error) error {
	if s.postHook != nil {
		if err := s.postHook(ctx, info, submitErr, s.logger); err != nil {
			return err
		}
	}
	if len(s.opts.PostSubmitCmd) > 0 {
		if err := s.runExternalHook(ctx, "post", s.opts.PostSubmitCmd, info, submitErr); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) submit(ctx context.Context, info SubmitInfo) error {
	if s.opts.Config.DryRun {
		s.logger.Info("dry-run: would report",
			"test", info.TestID, "case_id", info.CaseID, "status", info.Status)
		return nil
	}
	if s.disabled {
		return fmt.Errorf("reporting disabled")
	}

	if err := s.ensureCase(ctx, info.CaseID); err != nil {
		return err
	}

	if s.opts.Batch {
		s.batch = append(s.batch, testrail.CaseResult{
			CaseID:   info.CaseID,
			StatusID: info.Status,
			Comment:  info.Comment,
			Elapsed:  testrail.FormatElapsed(info.Elapsed),
		})
		return nil
	}

	_, err := s.client.AddResultForCase(ctx, s.runID, info.CaseID, testrail.Result{
		StatusID: info.Status,
		Comment:  info.Comment,
		Elapsed:  testrail.FormatElapsed(info.Elapsed),
	})
	return err
}

// ensureCase grows the run's case list for annotations discovered
// mid-stream. Runs adopted via run_id are left untouched; their case list is
// the owner's concern.
func (s *session) ensureCase(ctx context.Context, caseID int) error {
	if !s.ownRun {
		return nil
	}
	if _, ok := s.caseSet[caseID]; ok {
		return nil
	}
	s.caseList = append(s.caseList, caseID)
	s.caseSet[caseID] = struct{}{}
	if _, err := s.client.UpdateRun(ctx, s.runID, s.caseList); err != nil {
		return fmt.Errorf("add case C%d to run: %w", caseID, err)
	}
	return nil
}

func (s *session) Close(ctx context.Context) (Summary, error) {
	if s.closed {
		return s.summary, nil
	}
	s.closed = true

	if s.opts.Config.DryRun {
		s.logger.Info("dry-run: would close run", "name", s.runName)
		return s.finalize(), nil
	}
	if s.disabled || s.runID == 0 {
		return s.finalize(), nil
	}

	if len(s.batch) > 0 {
		if err := s.client.AddResultsForCases(ctx, s.runID, s.batch); err != nil {
			s.summary.SubmitFailed += len(s.batch)
			s.summary.Submitted -= len(s.batch)
			// Everything marked submitted at Record time was only buffered;
			// reclassify the case records so reports agree with the counters.
			for i := range s.summary.Cases {
				if s.summary.Cases[i].Submitted {
					s.summary.Cases[i].Submitted = false
					s.summary.Cases[i].Error = err.Error()
				}
			}
			s.logger.Error("batch submission failed", "results", len(s.batch), "err", err)
			return s.finalize(), fmt.Errorf("flush batch: %w", err)
		}
		s.logger.Info("batch submitted", "results", len(s.batch))
		s.batch = nil
	}

	if s.ownRun {
		if err := s.client.CloseRun(ctx, s.runID); err != nil {
			s.logger.Error("close run failed", "run_id", s.runID, "err", err)
			return s.finalize(), fmt.Errorf("close run %d: %w", s.runID, err)
		}
		s.logger.Info("run closed", "run_id", s.runID)
	}
	return s.finalize(), nil
}

func (s *session) finalize() Summary {
	s.summary.TotalElapsed = time.Since(s.startTime)
	return s.summary
}

func record(info SubmitInfo, submitted, dropped bool, errText string) CaseRecord {
	return CaseRecord{
		TestID:    info.TestID,
		CaseID:    info.CaseID,
		Status:    info.Status,
		Comment:   info.Comment,
		Elapsed:   info.Elapsed,
		Submitted: submitted,
		Dropped:   dropped,
		Error:     errText,
	}
}
