package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	token     string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "peerctl",
	Short: "Command-line participant for mentoring video sessions",
	Long: `peerctl joins a scheduled mentoring session as one of its two
participants: it connects to the signaling relay, drives the WebRTC
handshake with the other peer, and relays chat. Useful for testing a
session end to end without a browser.`,
}

// Execute runs the root command. Called once from main.
func Execute() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("peerctl failed")
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "base URL of the session server")
	rootCmd.PersistentFlags().StringVarP(&token, "token", "t", "", "identity token (JWT)")
}
