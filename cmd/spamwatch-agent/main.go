// spamwatch-agent — the SMS spam classification agent runtime.
//
// It runs a durable queue, a scoring agent applying a three-zone threshold
// policy, and a retrain agent driven by moderator gold labels. Use
// `spamwatch-agent serve` to start the runners, or the one-shot
// import/review/retrain/status subcommands for operator control.
package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spamwatch/agent/internal/cli"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cli.Execute()
}
