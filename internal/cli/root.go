package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yegors/co-scribe/internal/app"
	"github.com/yegors/co-scribe/internal/config"
	"github.com/yegors/co-scribe/internal/version"
)

// Command annotations controlling what PersistentPreRunE prepares
const (
	annotationNoConfig = "no-config"
	annotationNoApp    = "no-app"
)

// Dependencies is filled in before a command runs
type Dependencies struct {
	ConfigPath string
	Config     *config.Config
	App        *app.App
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "co-scribe",
		Short: "Record meetings with live transcription and notes",
		Long: "co-scribe captures your microphone and system audio, transcribes both live " +
			"over a streaming speech API, keeps the transcript per document and writes notes from it.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[annotationNoConfig] != "" {
				return nil
			}
			cfg, err := config.Load(deps.ConfigPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			deps.Config = cfg
			if cmd.Annotations[annotationNoApp] != "" {
				return nil
			}
			a, err := app.New(cfg)
			if err != nil {
				return fmt.Errorf("initializing app: %w", err)
			}
			deps.App = a
			return nil
		},
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")
	rootCmd.PersistentFlags().StringVarP(&deps.ConfigPath, "config", "c", "", "config file (default "+config.DefaultPath()+")")

	rootCmd.AddCommand(NewServeCmd(deps))
	rootCmd.AddCommand(NewRecordCmd(deps))
	rootCmd.AddCommand(NewNotesCmd(deps))
	rootCmd.AddCommand(NewListCmd(deps))
	rootCmd.AddCommand(NewDoctorCmd(deps))
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{annotationNoConfig: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		},
	}
}
