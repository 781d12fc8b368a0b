//go:build !nodebug

package logging

// debugCompiledIn is true in the default build: Debug calls format and log
// normally, gated only by the runtime Level.
const debugCompiledIn = true
