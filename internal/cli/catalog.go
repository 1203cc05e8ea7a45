package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tutorstack/tutorguard/internal/fallback"
	"github.com/tutorstack/tutorguard/internal/trigger"
)

func newCatalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect fallback content catalogs",
	}
	cmd.AddCommand(newCatalogValidateCommand(), newCatalogShowCommand())
	return cmd
}

func newCatalogValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a catalog file and print entry counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := fallback.LoadCatalogFile(args[0])
			if err != nil {
				return err
			}
			c := cat.Counts()
			fields := []field{
				{"subjects", c.Subjects},
				{"topics", c.Topics},
				{"entries", c.Entries},
				{"triggers", c.Triggers},
				{"error codes", c.ErrorCodes},
				{"offline", c.Offline},
			}
			for _, t := range fallback.Tiers {
				fields = append(fields, field{string(t), c.ByTier[t]})
			}
			return render(cmd, c, fields)
		},
	}
}

func newCatalogShowCommand() *cobra.Command {
	var (
		catalogPath string
		tierName    string
		triggerName string
		errorCode   string
		offline     bool
	)

	cmd := &cobra.Command{
		Use:   "show <subject> [topic]",
		Short: "Resolve the fallback content served for a subject",
		Example: `  tutorguardctl catalog show math algebra --tier TIER_2
  tutorguardctl catalog show science --offline --catalog ./catalog.yaml`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, ok := fallback.ParseTier(tierName)
			if !ok {
				return fmt.Errorf("unknown tier %q", tierName)
			}
			var t trigger.Trigger
			if triggerName != "" {
				if t, ok = trigger.Parse(triggerName); !ok {
					return fmt.Errorf("unknown trigger %q", triggerName)
				}
			}

			cat, err := loadCatalog(catalogPath)
			if err != nil {
				return err
			}

			cfg := fallback.DefaultStoreConfig(zerolog.Nop())
			cfg.DisableCache = true
			cfg.Chooser = func(int) int { return 0 }
			store := fallback.NewStoreFromCatalog(cfg, cat)

			var topic string
			if len(args) == 2 {
				topic = args[1]
			}
			c := store.GetFallbackContent(args[0], topic, fallback.Options{
				Tier:        tier,
				Trigger:     t,
				ErrorCode:   errorCode,
				OfflineMode: offline,
			})
			return render(cmd, c, []field{
				{"tier", c.Tier},
				{"type", c.Type},
				{"content", c.Content},
			})
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "catalog file (default: built-in catalog)")
	cmd.Flags().StringVar(&tierName, "tier", string(fallback.Tier2), "requested tier")
	cmd.Flags().StringVar(&triggerName, "trigger", "", "fallback trigger")
	cmd.Flags().StringVar(&errorCode, "code", "", "error code")
	cmd.Flags().BoolVar(&offline, "offline", false, "resolve offline content")
	return cmd
}

func loadCatalog(path string) (*fallback.Catalog, error) {
	if path == "" {
		return fallback.DefaultCatalog()
	}
	return fallback.LoadCatalogFile(path)
}
