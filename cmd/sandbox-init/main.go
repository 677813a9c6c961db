// Command sandbox-init is the standalone pre-exec helper. Point
// sandbox.helperPath at it when the runner binary should not re-exec itself.
package main

import "coderunner/internal/sandbox/initproc"

func main() {
	initproc.Main()
}
