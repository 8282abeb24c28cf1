// Package types defines the data shared between formulary's pipeline stages:
// the filesystem abstraction and the records a build run produces
// (phase results, patch logs, link logs, test reports and the final
// InstallationRecord that is persisted as the keg's receipt).
package types
