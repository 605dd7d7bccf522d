package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// runExternalHook executes a user command around a submission. Submission
// metadata travels in RAILGUN_* environment variables; the command's output
// is forwarded to the session logger line by line. A non-zero exit aborts
// the stream.
func (s *session) runExternalHook(ctx context.Context, phase string, cmd []string, info SubmitInfo, submitErr error) error {
	if len(cmd) == 0 {
		return nil
	}

	command := exec.CommandContext(ctx, cmd[0], cmd[1:]...)
	command.Env = append(command.Environ(), hookEnv(phase, info, submitErr)...)

	stdout, _ := command.StdoutPipe()
	stderr, _ := command.StderrPipe()

	if err := command.Start(); err != nil {
		return fmt.Errorf("%s-submit hook start: %w", phase, err)
	}

	var wg sync.WaitGroup
	logStream := func(stream string, rdr io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(rdr)
		for scanner.Scan() {
			s.logger.Info("hook", "phase", phase, "cmd", cmd[0], "stream", stream, "msg", scanner.Text())
		}
	}
	if stdout != nil {
		wg.Add(1)
		go logStream("stdout", stdout)
	}
	if stderr != nil {
		wg.Add(1)
		go logStream("stderr", stderr)
	}

	err := command.Wait()
	wg.Wait()
	if err != nil {
		return fmt.Errorf("%s-submit hook failed: %w", phase, err)
	}
	return nil
}

func hookEnv(phase string, info SubmitInfo, submitErr error) []string {
	vals := []string{
		"RAILGUN_PHASE=" + phase,
		"RAILGUN_TEST=" + info.TestID,
		fmt.Sprintf("RAILGUN_CASE_ID=%d", info.CaseID),
		fmt.Sprintf("RAILGUN_STATUS=%d", info.Status),
		"RAILGUN_COMMENT=" + info.Comment,
		fmt.Sprintf("RAILGUN_ELAPSED_MS=%d", info.Elapsed.Milliseconds()),
	}
	if submitErr != nil {
		vals = append(vals, "RAILGUN_SUBMIT_ERROR="+submitErr.Error())
	}
	return vals
}
