package memruntime

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/envkit-dev/envkit-sdk/domain/entities"
	"github.com/envkit-dev/envkit-sdk/domain/errors"
)

// DirectiveEval is the default evaluator: a tiny line-oriented directive
// language, just enough to script runtime behaviour in tests and
// examples.
//
//	name = value          bind a variable (int when value parses as one)
//	output <idx> <data>   register output <idx> with raw text <data>
//	sleep <duration>      block, honouring ctx cancellation
//	fail <message>        raise a fault with <message>
//
// Blank lines and lines starting with # are ignored.
func DirectiveEval(ctx context.Context, state *EnvState, src entities.Source) error {
	for lineno, raw := range strings.Split(string(src.Code), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if name, value, ok := strings.Cut(line, "="); ok && !strings.HasPrefix(line, "output ") {
			state.Vars[strings.TrimSpace(name)] = parseValue(strings.TrimSpace(value))
			continue
		}

		directive, rest, _ := strings.Cut(line, " ")
		switch directive {
		case "output":
			idxStr, data, _ := strings.Cut(rest, " ")
			idx, err := strconv.Atoi(idxStr)
			if err != nil {
				return fault(src, lineno, fmt.Sprintf("bad output index %q", idxStr))
			}
			state.Outputs[idx] = entities.Output{Kind: "text", Data: []byte(data)}

		case "sleep":
			d, err := time.ParseDuration(strings.TrimSpace(rest))
			if err != nil {
				return fault(src, lineno, fmt.Sprintf("bad duration %q", rest))
			}
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return ctx.Err()
			}

		case "fail":
			return fault(src, lineno, rest)

		default:
			return fault(src, lineno, fmt.Sprintf("unknown directive %q", directive))
		}
	}
	return nil
}

func parseValue(s string) any {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return strings.Trim(s, `"`)
}

func fault(src entities.Source, lineno int, message string) error {
	return &errors.ScriptFault{
		Message: message,
		Trace:   fmt.Sprintf("%s:%d", src.Filename, lineno+1),
	}
}
