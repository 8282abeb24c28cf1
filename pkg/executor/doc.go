// Package executor runs a formula's build phases as external processes.
//
// Phases run strictly in declared order. A phase whose condition does not
// hold is skipped; a phase that exits non-zero or exceeds its timeout ends
// the run immediately and no later phase is started. Each phase gets a
// derived copy of the install environment carrying its worker hint
// (MAKEFLAGS=-jN, or -j1 for serial phases), so a serial override never
// leaks into the phases that follow it.
//
// Processes are started through the Runner interface; ExecRunner is the
// real implementation and tests substitute fakes.
package executor
