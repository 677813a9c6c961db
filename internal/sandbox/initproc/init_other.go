//go:build !linux

package initproc

import "fmt"

// MaybeRun is a no-op where the helper is not supported.
func MaybeRun() {}

// Main is only available on linux.
func Main() {
	panic("sandbox helper is only supported on linux")
}

// Validate always fails where seccomp is unavailable.
func (p SeccompProfile) Validate() error {
	return fmt.Errorf("seccomp is only supported on linux")
}
