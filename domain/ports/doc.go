// Package ports defines the interfaces the core consumes from
// infrastructure. Domain logic depends on these abstractions and the
// runtime adapters implement them.
package ports
