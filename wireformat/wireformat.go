// Package wireformat defines the JSON wire format structures for
// communication between runtime adapters and the code they execute in
// an environment. These types must remain stable and backward
// compatible as they define the adapter contract.
package wireformat

import (
	"fmt"
	"strconv"

	"github.com/envkit-dev/envkit-sdk/domain/entities"
	"github.com/envkit-dev/envkit-sdk/domain/errors"
)

// RunRequest is the JSON wire format for an execution request from
// adapter to environment.
type RunRequest struct {
	Environment string `json:"environment"`
	Filename    string `json:"filename,omitempty"`
	Code        string `json:"code"`
}

// RunResult is the JSON wire format for an execution result from
// environment to adapter. Exactly one of Fault or the payload fields is
// meaningful.
type RunResult struct {
	Fault      *FaultDetail          `json:"fault,omitempty"`
	Outputs    map[string]OutputWire `json:"outputs,omitempty"`
	Bindings   map[string]any        `json:"bindings,omitempty"`
	DurationMs int64                 `json:"duration_ms,omitempty"`
}

// OutputWire is the JSON wire format for a single registered output.
type OutputWire struct {
	Kind string `json:"kind"`
	Data []byte `json:"data"`
}

// FaultDetail provides structured fault information, consistent across
// all runtime adapters.
type FaultDetail struct {
	Message string `json:"message"`
	Trace   string `json:"trace,omitempty"`
}

// Error implements the error interface for FaultDetail.
func (e *FaultDetail) Error() string {
	if e == nil {
		return ""
	}
	if e.Trace != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Trace)
	}
	return e.Message
}

// NewRunRequest builds the wire request for running src in the
// environment identified by env.
func NewRunRequest(env entities.EnvironmentHandle, src entities.Source) *RunRequest {
	return &RunRequest{
		Environment: env.EnvironmentID(),
		Filename:    src.Filename,
		Code:        string(src.Code),
	}
}

// FromExecResult converts a runtime result into its wire form.
func FromExecResult(res *entities.ExecResult) *RunResult {
	wire := &RunResult{
		Outputs:  make(map[string]OutputWire, len(res.Outputs)),
		Bindings: res.Bindings,
	}
	for idx, out := range res.Outputs {
		wire.Outputs[strconv.Itoa(idx)] = OutputWire{Kind: out.Kind, Data: out.Data}
	}
	return wire
}

// ExecResult converts the wire form back into a runtime result. A
// fault comes back as *errors.ScriptFault instead of a result.
func (r *RunResult) ExecResult() (*entities.ExecResult, error) {
	if r.Fault != nil {
		return nil, &errors.ScriptFault{Message: r.Fault.Message, Trace: r.Fault.Trace}
	}

	res := &entities.ExecResult{
		Outputs:  make(map[int]entities.Output, len(r.Outputs)),
		Bindings: r.Bindings,
	}
	for key, out := range r.Outputs {
		idx, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("bad output index %q: %w", key, err)
		}
		res.Outputs[idx] = entities.Output{Kind: out.Kind, Data: out.Data}
	}
	return res, nil
}
