//go:build !jobdispatch_debug

package jobdispatch

const debugAssertions = false
