package main

import (
	"log"
)

// Version information (set via ldflags)
var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
