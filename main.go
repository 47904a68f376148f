package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/habedi/apsq/cmd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// main is the entry point of the application.
// It sets up logging based on the DEBUG_APSQ environment variable,
// cancels the running command on an interrupt signal, and executes the main command.
func main() {
	configureLogLevelFromEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopChan := setupInterruptListener()
	go handleInterrupt(stopChan, cancel, func(msg string) { log.Fatal().Msg(msg) })

	// Program entry point
	cmd.Execute(ctx)
}

// configureLogLevelFromEnv enables debug logging to stderr when DEBUG_APSQ is
// set to anything but "", "0" or "false", and disables logging otherwise.
func configureLogLevelFromEnv() {
	switch os.Getenv("DEBUG_APSQ") {
	case "", "0", "false":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	default:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func setupInterruptListener() chan os.Signal {
	stopChan := make(chan os.Signal, 2)
	signal.Notify(stopChan, os.Interrupt)
	return stopChan
}

// handleInterrupt cancels the running command on the first interrupt and
// calls fatal on the second.
func handleInterrupt(stop chan os.Signal, cancel context.CancelFunc, fatal func(string)) {
	<-stop
	log.Warn().Msg("Interrupt signal received. Canceling...")
	cancel()
	<-stop
	fatal("Second interrupt signal received. Exiting...")
}
