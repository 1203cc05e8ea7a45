package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tutorstack/tutorguard/internal/errclass"
	"github.com/tutorstack/tutorguard/internal/fallback"
	"github.com/tutorstack/tutorguard/internal/trigger"
)

type classifyResult struct {
	errclass.Record
	Trigger trigger.Trigger `json:"trigger"`
}

func newClassifyCommand() *cobra.Command {
	var (
		status    int
		recurring bool
	)

	cmd := &cobra.Command{
		Use:   "classify <message>",
		Short: "Classify an upstream error message",
		Long: `Classify runs an error message through the error classifier and the
trigger analyzer and prints the category, severity, code and trigger the
service would assign to it.`,
		Example: `  tutorguardctl classify "429 Too Many Requests"
  tutorguardctl classify --status 503 "upstream connect error"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args, " ")
			rec := errclass.ClassifyMessage(message, errclass.Options{StatusCode: status, Recurring: recurring})
			t := trigger.Analyze(errors.New(message), rec.Code, rec.Category)

			return render(cmd, classifyResult{Record: rec, Trigger: t}, []field{
				{"category", rec.Category},
				{"severity", rec.Severity},
				{"code", rec.Code},
				{"trigger", t},
			})
		},
	}
	cmd.Flags().IntVar(&status, "status", 0, "HTTP status returned by the upstream")
	cmd.Flags().BoolVar(&recurring, "recurring", false, "treat the error as a repeat failure")
	return cmd
}

type tierResult struct {
	Trigger  trigger.Trigger  `json:"trigger"`
	Severity trigger.Severity `json:"severity"`
	Tier     fallback.Tier    `json:"tier"`
}

func newTierCommand() *cobra.Command {
	var (
		errorCount   int
		responseTime time.Duration
		triggerName  string
	)

	cmd := &cobra.Command{
		Use:     "tier",
		Short:   "Show the fallback tier for a failure pattern",
		Example: `  tutorguardctl tier --errors 4 --response-time 12s --trigger timeout`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, ok := trigger.Parse(triggerName)
			if !ok {
				return fmt.Errorf("unknown trigger %q", triggerName)
			}
			if errorCount < 0 {
				return fmt.Errorf("--errors must not be negative")
			}

			res := tierResult{
				Trigger:  t,
				Severity: trigger.DetermineSeverity(t, errorCount),
				Tier:     fallback.DetermineTier(errorCount, responseTime, t),
			}
			return render(cmd, res, []field{
				{"trigger", res.Trigger},
				{"severity", res.Severity},
				{"tier", res.Tier},
			})
		},
	}
	cmd.Flags().IntVar(&errorCount, "errors", 1, "consecutive errors")
	cmd.Flags().DurationVar(&responseTime, "response-time", 0, "response time of the failed request")
	cmd.Flags().StringVar(&triggerName, "trigger", string(trigger.Unknown), "fallback trigger")
	return cmd
}
