package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mentorlink/sessiond/internal/auth"
	"github.com/mentorlink/sessiond/internal/domain"
)

var (
	tokenSecret string
	tokenName   string
)

// tokenCmd mints a development identity token with the same secret the
// server is configured with. Production tokens come from the platform's
// identity service.
var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Mint a development identity token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenSecret == "" {
			return errors.New("--secret is required")
		}
		signed, err := auth.Sign(tokenSecret, domain.UserID(args[0]), tokenName)
		if err != nil {
			return err
		}
		fmt.Println(signed)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "shared JWT secret")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name claim")
	rootCmd.AddCommand(tokenCmd)
}
