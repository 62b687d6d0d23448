package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/arbnexus/arbnexus/internal/app"
)

// Exit codes: 1 invalid configuration, 2 store unreachable, 3 no
// healthy rpc endpoints.
const (
	exitConfigInvalid    = 1
	exitStoreUnreachable = 2
	exitNoEndpoints      = 3
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := Execute(ctx); err != nil {
		log.Error().Err(err).Msg("exiting")
		switch {
		case errors.Is(err, app.ErrStoreUnreachable):
			os.Exit(exitStoreUnreachable)
		case errors.Is(err, app.ErrNoHealthyEndpoints):
			os.Exit(exitNoEndpoints)
		default:
			os.Exit(exitConfigInvalid)
		}
	}
}
