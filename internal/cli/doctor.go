package cli

import (
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/yegors/co-scribe/internal/audio"
	"github.com/yegors/co-scribe/internal/config"
	"github.com/yegors/co-scribe/internal/output"
	"github.com/yegors/co-scribe/internal/transcription"
)

func NewDoctorCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:         "doctor",
		Short:       "Check prerequisites",
		Annotations: map[string]string{annotationNoApp: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			f := output.NewFormatter(cmd.OutOrStdout())
			if !runDoctor(deps.Config, f, exec.LookPath) {
				f.Warning("\nSome prerequisites are missing.")
				return nil
			}
			f.Success("\nAll prerequisites met. Ready to record!")
			return nil
		},
	}
}

func runDoctor(cfg *config.Config, f *output.Formatter, lookPath func(string) (string, error)) bool {
	ok := true

	if path, err := lookPath(cfg.Capture.FFmpegPath); err != nil {
		f.SetupCheck("ffmpeg", false, fmt.Sprintf("%s not found. Install ffmpeg or set capture.ffmpeg_path", cfg.Capture.FFmpegPath))
		ok = false
	} else {
		f.SetupCheck("ffmpeg", true, path)
	}

	devices := map[audio.Source]config.DeviceConfig{
		audio.Microphone: cfg.Capture.Microphone,
		audio.System:     cfg.Capture.System,
	}
	for _, source := range audio.Sources() {
		c := devices[source]
		f.SetupCheck(source.String()+" device", true, fmt.Sprintf("%s %q (%dHz, %dch, %s)",
			c.InputFormat, c.Device, c.SampleRate, c.Channels, c.Encoding))
	}

	backend := cfg.Transcription.Backend
	rate, _ := transcription.SampleRateFor(cfg.TranscriptionConfig())
	if err := cfg.RequireTranscriptionKey(); err != nil {
		f.SetupCheck("Transcription ("+backend+")", false, err.Error())
		ok = false
	} else {
		f.SetupCheck("Transcription ("+backend+")", true, fmt.Sprintf("API key configured, %dHz audio", rate))
	}

	if cfg.NotesConfig().APIKey != "" {
		f.SetupCheck("Notes", true, "model "+cfg.Notes.Model)
	} else {
		f.SetupCheck("Notes", false, "not set. Set "+config.EnvOpenAIKey+" or notes.api_key")
	}

	f.SetupCheck("Database", true, cfg.Storage.DBPath)
	if cfg.Session.ArchiveDir != "" {
		f.SetupCheck("Audio archive", true, cfg.Session.ArchiveDir)
	}
	return ok
}
