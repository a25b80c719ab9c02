package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	godotenv.Load()

	a, err := wireApp()
	if err := newRootCmd(a, err).Execute(); err != nil {
		os.Exit(1)
	}
}
