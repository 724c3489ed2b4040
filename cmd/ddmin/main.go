// Command ddmin minimizes a failing test case via delta debugging: given a
// byte-oriented input and a command template, it produces a 1-minimal
// subsequence of that input that still reproduces the configured failure.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/calvinalkan/ddmin/internal/cli"
)

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	exitCode := cli.Run(os.Stdin, os.Stdout, os.Stderr, os.Args, sigCh)

	os.Exit(exitCode)
}
