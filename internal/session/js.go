package session

import (
	"fmt"
	"os"
	"strings"

	"github.com/dop251/goja"
	"pkt.systems/pslog"
)

// hookScript runs a user-provided JS snippet against each pending
// submission. The script sees a `result` object:
//
//	result.test      // test identifier (read-only by convention)
//	result.caseId    // TestRail case ID
//	result.status    // TestRail status ID, assignable
//	result.comment   // comment text, assignable
//	result.elapsedMs // elapsed milliseconds
//	result.drop      // set true to suppress the submission
//
// plus console.log wired to the session logger at debug level.
type hookScript struct {
	path   string
	src    string
	logger pslog.Base
}

func loadHookScript(path string, logger pslog.Base) (*hookScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load hook script: %w", err)
	}
	// Compile once up front so syntax errors surface at session
	// construction, not on the first result.
	if _, err := goja.Compile(path, string(b), false); err != nil {
		return nil, fmt.Errorf("compile hook script %s: %w", path, err)
	}
	return &hookScript{path: path, src: string(b), logger: logger}, nil
}

func (h *hookScript) apply(info *SubmitInfo) error {
	vm := goja.New()

	obj := vm.NewObject()
	_ = obj.Set("test", info.TestID)
	_ = obj.Set("caseId", info.CaseID)
	_ = obj.Set("status", info.Status)
	_ = obj.Set("comment", info.Comment)
	_ = obj.Set("elapsedMs", info.Elapsed.Milliseconds())
	_ = obj.Set("drop", false)
	_ = vm.Set("result", obj)

	registerConsole(vm, h.logger)

	if _, err := vm.RunScript(h.path, h.src); err != nil {
		return err
	}

	if v := obj.Get("status"); v != nil && !goja.IsUndefined(v) {
		info.Status = int(v.ToInteger())
	}
	if v := obj.Get("comment"); v != nil && !goja.IsUndefined(v) {
		info.Comment = v.String()
	}
	if v := obj.Get("drop"); v != nil && !goja.IsUndefined(v) {
		info.Drop = v.ToBoolean()
	}
	return nil
}

func registerConsole(vm *goja.Runtime, logger pslog.Base) {
	console := vm.NewObject()
	logFn := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		if logger != nil {
			logger.Debug("hook-script", "msg", strings.Join(parts, " "))
		}
		return goja.Undefined()
	}
	_ = console.Set("log", logFn)
	_ = console.Set("error", logFn)
	_ = console.Set("warn", logFn)
	_ = vm.Set("console", console)
}
