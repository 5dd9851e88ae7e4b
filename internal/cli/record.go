package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yegors/co-scribe/internal/output"
	"github.com/yegors/co-scribe/internal/session"
	"github.com/yegors/co-scribe/internal/transcript"
)

func NewRecordCmd(deps *Dependencies) *cobra.Command {
	var documentID string
	var withNotes bool

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record and transcribe in the foreground",
		Long: "Capture microphone and system audio, print the transcript as it is finalised and " +
			"store it under the document. Ctrl+C stops. Recording into an existing document continues its transcript.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := deps.Config.RequireTranscriptionKey(); err != nil {
				return err
			}
			if documentID == "" {
				documentID = uuid.NewString()
			}
			if withNotes && deps.App.Notes == nil {
				return errors.New("notes API key not set: set CO_SCRIBE_OPENAI_API_KEY or notes.api_key in config")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			formatter := output.NewFormatter(cmd.OutOrStdout())
			if err := runRecording(ctx, deps.App.Controller, documentID, formatter); err != nil {
				return err
			}

			if withNotes {
				formatter.Summarizing()
				content, err := deps.App.Notes.GenerateForDocument(context.WithoutCancel(ctx), documentID)
				if err != nil {
					return err
				}
				formatter.Notes(content)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&documentID, "document", "d", "", "document to record into (default: a new document)")
	cmd.Flags().BoolVar(&withNotes, "notes", false, "generate notes when recording stops")
	return cmd
}

// recorder is the part of the session controller the record command drives
type recorder interface {
	Start(ctx context.Context, documentID string) error
	Stop(ctx context.Context)
	Subscribe() (<-chan session.Notification, func())
}

// runRecording records until ctx is done, printing finals as they settle
func runRecording(ctx context.Context, rec recorder, documentID string, formatter *output.Formatter) error {
	notifications, unsubscribe := rec.Subscribe()
	defer unsubscribe()

	if err := rec.Start(ctx, documentID); err != nil {
		return err
	}
	started := time.Now()
	formatter.RecordingStarted(documentID)

	printer := &finalPrinter{formatter: formatter}
	for {
		select {
		case n := <-notifications:
			switch n.Kind {
			case session.NotifyTranscript:
				printer.print(n.Segments)
			case session.NotifyError:
				if n.Error != "" {
					formatter.Warning(n.Error)
				}
			}
		case <-ctx.Done():
			rec.Stop(context.WithoutCancel(ctx))
			formatter.RecordingStopped(time.Since(started))
			return nil
		}
	}
}

// finalPrinter prints each final segment once. Finals never move once they
// are in the transcript, so a count of the settled prefix is enough.
type finalPrinter struct {
	formatter *output.Formatter
	printed   int
}

func (p *finalPrinter) print(segments []transcript.Segment) {
	finals := transcript.Finals(segments)
	if len(finals) < p.printed {
		p.printed = 0
	}
	for _, s := range finals[p.printed:] {
		p.formatter.Segment(s)
	}
	p.printed = len(finals)
}
