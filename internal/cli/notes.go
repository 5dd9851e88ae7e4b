package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/yegors/co-scribe/internal/output"
	"github.com/yegors/co-scribe/internal/storage/sqlite"
	"github.com/yegors/co-scribe/internal/transcript"
)

func NewNotesCmd(deps *Dependencies) *cobra.Command {
	var show bool
	var printTranscript bool

	cmd := &cobra.Command{
		Use:   "notes <document>",
		Short: "Generate notes for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			documentID := args[0]
			formatter := output.NewFormatter(cmd.OutOrStdout())
			ctx := cmd.Context()

			if printTranscript {
				segments, err := deps.App.Storage.LoadCurrentTranscript(ctx, documentID)
				if err != nil {
					return err
				}
				formatter.Transcript(transcript.Render(segments))
				return nil
			}

			if show {
				record, err := deps.App.Storage.GetNotes(ctx, documentID)
				if errors.Is(err, sqlite.ErrNotFound) {
					formatter.Info("No notes stored for " + documentID)
					return nil
				}
				if err != nil {
					return err
				}
				formatter.Notes(record.Content)
				return nil
			}

			if deps.App.Notes == nil {
				return errors.New("notes API key not set: set CO_SCRIBE_OPENAI_API_KEY or notes.api_key in config")
			}
			formatter.Summarizing()
			content, err := deps.App.Notes.GenerateForDocument(ctx, documentID)
			if err != nil {
				return err
			}
			formatter.Notes(content)
			return nil
		},
	}

	cmd.Flags().BoolVar(&show, "show", false, "print the stored notes instead of generating new ones")
	cmd.Flags().BoolVar(&printTranscript, "transcript", false, "print the stored transcript")
	return cmd
}

func NewListCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(cmd.OutOrStdout())

			docs, err := deps.App.Storage.ListDocuments(cmd.Context())
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				formatter.Info("No documents found")
				return nil
			}

			formatter.DocumentListHeader()
			for _, d := range docs {
				formatter.DocumentListItem(d)
			}
			return nil
		},
	}
}
