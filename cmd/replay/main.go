// Command replay runs the log and metrics parsers and the inference engine
// over captured files, printing the reconstructed requests as JSON.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
