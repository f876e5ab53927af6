package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		if _, werr := fmt.Fprintf(os.Stderr, "error: %v\n", err); werr != nil {
			fmt.Printf("error: %v\n", err)
		}
		os.Exit(1)
	}
}
