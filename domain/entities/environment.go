package entities

// EnvironmentHandle identifies one isolated environment of the host
// runtime. Handles are created and owned by runtime adapters; the core
// only passes them around and compares their identities.
type EnvironmentHandle interface {
	// EnvironmentID returns the runtime-unique identity of the environment.
	EnvironmentID() string
}

// SameEnvironment reports whether two handles name the same environment.
// Either side may be nil, which never matches.
func SameEnvironment(a, b EnvironmentHandle) bool {
	if a == nil || b == nil {
		return false
	}
	return a.EnvironmentID() == b.EnvironmentID()
}

// Output is one record published by code running inside an environment.
// The payload is opaque to the core; Kind is an adapter-chosen tag.
type Output struct {
	Kind string `json:"kind,omitempty"`
	Data []byte `json:"data,omitempty"`
}

// ExecResult is what a host runtime reports after running code inside an
// environment: the outputs the code registered and the module-level
// bindings it produced.
type ExecResult struct {
	Outputs  map[int]Output `json:"outputs,omitempty"`
	Bindings map[string]any `json:"bindings,omitempty"`
}
