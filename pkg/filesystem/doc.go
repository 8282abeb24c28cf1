// Package filesystem provides the types.FS implementations formulary runs
// on, all backed by afero: the OS filesystem for real builds and a
// MemMapFs for tests. It also holds the few file helpers shared by the
// cellar, linker and patcher.
package filesystem
