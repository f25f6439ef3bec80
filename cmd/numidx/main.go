// Command numidx inspects, edits, backs up and restores numeric index files.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
