// The main package for the archiver executable.
package main

import (
	"os"

	"github.com/JakeFAU/marketplace-archiver/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
