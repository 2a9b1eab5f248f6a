package entities

// Source is a unit of code handed to the host runtime for execution.
// The code itself is opaque to the core.
type Source struct {
	// Filename is reported in diagnostics. Defaults to "<code>" when the
	// source did not come from a file.
	Filename string
	Code     []byte
}

// SourceFromString builds a Source from literal code.
func SourceFromString(code string) Source {
	return Source{Filename: "<code>", Code: []byte(code)}
}

// ScriptState describes where a script is in its lifecycle.
type ScriptState int

const (
	ScriptCreated ScriptState = iota
	ScriptRunning
	ScriptCompleted
	ScriptFailed
	ScriptDisposed
)

// String returns the lowercase name of the state.
func (s ScriptState) String() string {
	switch s {
	case ScriptCreated:
		return "created"
	case ScriptRunning:
		return "running"
	case ScriptCompleted:
		return "completed"
	case ScriptFailed:
		return "failed"
	case ScriptDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}
