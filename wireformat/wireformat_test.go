package wireformat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envkit-dev/envkit-sdk/domain/entities"
	"github.com/envkit-dev/envkit-sdk/domain/errors"
)

func TestExecResult_RoundTrip(t *testing.T) {
	res := &entities.ExecResult{
		Outputs: map[int]entities.Output{
			0: {Kind: "text", Data: []byte("hello")},
			3: {Kind: "frame", Data: []byte{0x01, 0x02}},
		},
		Bindings: map[string]any{"answer": float64(42)},
	}

	raw, err := json.Marshal(FromExecResult(res))
	require.NoError(t, err)

	var wire RunResult
	require.NoError(t, json.Unmarshal(raw, &wire))

	back, err := wire.ExecResult()
	require.NoError(t, err)
	assert.Equal(t, res.Outputs, back.Outputs)
	assert.Equal(t, res.Bindings, back.Bindings)
}

func TestExecResult_FaultBecomesScriptFault(t *testing.T) {
	wire := RunResult{Fault: &FaultDetail{Message: "boom", Trace: "<code>:3"}}

	_, err := wire.ExecResult()
	var fault *errors.ScriptFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "boom", fault.Message)
	assert.Equal(t, "<code>:3", fault.Trace)
}

func TestExecResult_RejectsBadOutputIndex(t *testing.T) {
	wire := RunResult{Outputs: map[string]OutputWire{"not-a-number": {}}}

	_, err := wire.ExecResult()
	assert.Error(t, err)
}

func TestFaultDetail_Error(t *testing.T) {
	assert.Equal(t, "boom (<code>:3)", (&FaultDetail{Message: "boom", Trace: "<code>:3"}).Error())
	assert.Equal(t, "boom", (&FaultDetail{Message: "boom"}).Error())
	assert.Equal(t, "", (*FaultDetail)(nil).Error())
}

func TestSchema_DeclaresResultProperties(t *testing.T) {
	schema, err := Schema(RunResult{})
	require.NoError(t, err)
	assert.NotEmpty(t, schema)

	// Validate it's valid JSON
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(schema, &decoded))

	assert.Contains(t, string(schema), "fault")
	assert.Contains(t, string(schema), "outputs")
	assert.Contains(t, string(schema), "bindings")
}

func TestNewRunRequest(t *testing.T) {
	req := NewRunRequest(handleStub("env-1"), entities.SourceFromString("x = 1"))

	assert.Equal(t, "env-1", req.Environment)
	assert.Equal(t, "<code>", req.Filename)
	assert.Equal(t, "x = 1", req.Code)
}

type handleStub string

func (h handleStub) EnvironmentID() string { return string(h) }
