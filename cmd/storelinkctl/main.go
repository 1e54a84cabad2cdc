// Command storelinkctl is the operator tool for storelink: it signs test
// payloads, mints storefront customer tokens and manages the database.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
