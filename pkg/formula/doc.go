// Package formula holds the formula model and the loader that turns TOML or
// YAML declarations into validated, immutable Formula values.
//
// A formula declares its source archive, dependencies, conflicts, build
// options, the rules that shape the build environment and configure
// arguments, the ordered build and post-install phases, the patches applied
// to installed files and the smoke tests run against the result. Every
// option name used in a condition must be declared; optional and recommended
// dependencies declare an option of their own name implicitly.
package formula
