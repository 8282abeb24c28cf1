// Package options merges a formula's declared build options with the
// user's --with-<opt> / --without-<opt> overrides into an immutable
// ResolvedOptionSet.
package options
