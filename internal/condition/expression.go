package condition

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"apptrigger/internal/system"
)

// programs caches compiled expressions by source text.
var programs sync.Map

// expressionEnv builds the variables and functions visible to an Expression condition.
// Compilation uses the same builder with zero collaborators, so only types matter there.
func expressionEnv(ctx context.Context, host *system.Host, seq Sequence) map[string]interface{} {
	now := time.Time{}
	uptime := 0.0
	if host != nil && host.Clock != nil {
		now = host.Clock.Now()
		if up, err := host.Clock.Uptime(); err == nil {
			uptime = up.Seconds()
		}
	}

	return map[string]interface{}{
		"now":            now,
		"hour":           now.Hour(),
		"minute":         now.Minute(),
		"weekday":        now.Weekday().String(),
		"uptime_seconds": uptime,
		"in_sequence":    seq.InSequence,
		"previous":       seq.PreviousSuccess,
		"process": func(name string) (bool, error) {
			if host == nil || host.Processes == nil {
				return false, system.ErrUnsupportedPlatform
			}
			procs, err := system.FindProcesses(host.Processes, name, false)
			return len(procs) > 0, err
		},
		"file": func(path string) (bool, error) {
			return fileExists(path)
		},
		"port": func(address string, port int) (bool, error) {
			if host == nil || host.Ports == nil {
				return false, system.ErrUnsupportedPlatform
			}
			return host.Ports.Probe(ctx, address, port, time.Second)
		},
	}
}

func compile(src string) (*vm.Program, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("empty expression")
	}
	if p, ok := programs.Load(src); ok {
		return p.(*vm.Program), nil
	}

	program, err := expr.Compile(src,
		expr.Env(expressionEnv(context.Background(), nil, Standalone)),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", err)
	}
	programs.Store(src, program)
	return program, nil
}

func (e *Evaluator) evalExpression(ctx context.Context, src string, seq Sequence) (bool, error) {
	program, err := compile(src)
	if err != nil {
		return false, err
	}

	output, err := expr.Run(program, expressionEnv(ctx, e.host, seq))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate expression: %w", err)
	}

	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean")
	}
	return result, nil
}
