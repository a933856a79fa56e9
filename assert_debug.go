//go:build jobdispatch_debug

package jobdispatch

// debugAssertions enables panicking on fence invariant violations.
const debugAssertions = true
