package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mentorlink/sessiond/internal/domain"
	"github.com/mentorlink/sessiond/internal/peer"
	"github.com/mentorlink/sessiond/internal/signalmsg"
)

var identity string

var joinCmd = &cobra.Command{
	Use:   "join <room-id>",
	Short: "Join a session room and stay in the call until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if token == "" {
			return errors.New("--token is required")
		}
		room := domain.RoomID(args[0])

		markers, err := peer.NewEndedMarker("")
		if err != nil {
			return err
		}

		p, err := peer.New(peer.Config{
			ServerURL: serverURL,
			Token:     token,
			Room:      room,
			Identity:  domain.UserID(identity),
			Markers:   markers,
			OnState: func(s peer.State) {
				switch s {
				case peer.StateWaiting:
					fmt.Println("waiting for the other participant...")
				case peer.StateConnected:
					fmt.Println("connected")
				}
			},
			OnChat: func(c signalmsg.Chat) {
				fmt.Printf("[%s] %s: %s\n", c.Timestamp.Local().Format("15:04"), c.Sender, c.Text)
			},
		})
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		// Lines typed on stdin go out as chat.
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				if text := strings.TrimSpace(scanner.Text()); text != "" {
					p.SendChat(text)
				}
			}
		}()

		runErr := p.Run(ctx)
		if errors.Is(runErr, context.Canceled) {
			// Interrupted by the user: end the call gracefully.
			endCtx, endCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer endCancel()
			return p.End(endCtx)
		}
		return runErr
	},
}

func init() {
	joinCmd.Flags().StringVar(&identity, "as", "", "display name used for chat messages")
	rootCmd.AddCommand(joinCmd)
}
