// Package environment materializes the build environment of one run: the
// environment variables and configure arguments derived from the resolved
// options and the dependency locations.
//
// Contributions are applied by pure reducers over an immutable value in a
// fixed order (keg-only dependency paths, then env and arg rules in
// declaration order, then one candidate per selector), so the same inputs
// always yield byte-identical output.
package environment
