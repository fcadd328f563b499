// Package ptr provides utility functions for working with pointers.
package ptr

// Of returns a pointer to the given value, for building optional patch fields.
func Of[T any](s T) *T { return &s }
