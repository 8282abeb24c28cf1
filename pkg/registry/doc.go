// Package registry is a concurrent name to item cache with load-once
// semantics. The formula loader keeps every parsed formula in one so a
// dependency shared by many formulas is read and validated a single time.
package registry
