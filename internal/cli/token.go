package cli

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tutorstack/tutorguard/internal/auth"
)

type tokenResult struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func newTokenCommand() *cobra.Command {
	var (
		subject string
		role    string
		expiry  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator token for the admin API",
		Long: `Token signs an operator token with ADMIN_JWT_SIGNING_KEY. The subject is
recorded as the actor of overrides, acknowledgements and resolutions.`,
		Example: `  ADMIN_JWT_SIGNING_KEY=... tutorguardctl token --subject oncall@example.com`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key := os.Getenv("ADMIN_JWT_SIGNING_KEY")
			if key == "" {
				return errors.New("ADMIN_JWT_SIGNING_KEY is not set")
			}

			svc := auth.NewTokenService(auth.TokenConfig{SigningKey: key, Expiry: expiry})
			token, expiresAt, err := svc.Issue(subject, role)
			if err != nil {
				return err
			}
			return render(cmd, tokenResult{Token: token, Subject: subject, ExpiresAt: expiresAt}, []field{
				{"subject", subject},
				{"expires", expiresAt.Format(time.RFC3339)},
				{"token", token},
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "operator identity")
	cmd.Flags().StringVar(&role, "role", "operator", "informational role claim")
	cmd.Flags().DurationVar(&expiry, "expiry", auth.DefaultTokenExpiry, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
