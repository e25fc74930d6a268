package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

var CLI struct {
	EnvFile string `help:"Optional .env file loaded before reading the environment." default:".env" name:"env-file"`

	Serve       ServeCmd       `cmd:"" help:"Run the HTTP API and the background outbox worker." default:"1"`
	ProcessOnce ProcessOnceCmd `cmd:"" help:"Run a single outbox dispatch pass and exit."`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("careops"),
		kong.Description("Care services outbox and caregiver allocation"),
		kong.UsageOnError(),
	)

	// A missing .env is normal in containers.
	_ = godotenv.Load(CLI.EnvFile)

	if err := ctx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
