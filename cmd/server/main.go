// Command asl-api classifies photos of American Sign Language letters, either
// over HTTP (serve) or for a single file (predict).
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
