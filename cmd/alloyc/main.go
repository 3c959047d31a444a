package main

import "os"

var version = "dev"

func main() {
	SetVersion(version)
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
