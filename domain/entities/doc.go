// Package entities provides the core domain types of the SDK.
// These are the value types shared between the environment lifecycle,
// script execution and the runtime adapters.
package entities
