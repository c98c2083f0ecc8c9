// Command invokectl runs model invocations against the configured vendor
// catalog, reports vendor health, and hosts the Temporal worker.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
