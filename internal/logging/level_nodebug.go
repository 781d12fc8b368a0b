//go:build nodebug

package logging

// debugCompiledIn is false when built with -tags nodebug: Debug's body
// becomes unreachable and the compiler strips it, so a firmware build pays
// nothing for Debug call sites left in the engine's hot path.
const debugCompiledIn = false
