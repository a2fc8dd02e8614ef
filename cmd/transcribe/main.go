// Command transcribe runs a one-shot transcription from the terminal,
// without the server or the job queue.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"woa/internal/asr"
	"woa/internal/audio"
	"woa/internal/diarize"
	"woa/internal/pipeline"
	"woa/internal/subtitle"
)

type options struct {
	modelType   string
	modelSize   string
	device      string
	computeType string
	language    string
	formats     []string
	outputDir   string

	modelRoot    string
	numThreads   int
	chunkSeconds int

	diarizeAudio bool
	diarizeModel string
	minSpeakers  int
	maxSpeakers  int

	verbose bool
}

func main() {
	opts := options{}

	cmd := &cobra.Command{
		Use:   "transcribe [flags] audio-file...",
		Short: "Transcribe audio files to subtitle formats",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(cmd.Context(), opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.modelType, "model-type", "t", string(asr.KindFasterWhisper), "recognizer backend")
	flags.StringVarP(&opts.modelSize, "model-size", "s", "base", "model size")
	flags.StringVarP(&opts.device, "device", "d", "cpu", "inference device (cpu or cuda)")
	flags.StringVar(&opts.computeType, "compute-type", asr.ComputeInt8, "model precision for faster_whisper")
	flags.StringVarP(&opts.language, "language", "l", "auto", "language hint")
	flags.StringSliceVarP(&opts.formats, "format", "f", []string{"txt"}, "output formats (txt, vtt, srt, tsv, json, all)")
	flags.StringVarP(&opts.outputDir, "output", "o", ".", "output directory")
	flags.StringVar(&opts.modelRoot, "model-root", "models", "base directory for local model trees")
	flags.IntVar(&opts.numThreads, "threads", 4, "inference threads")
	flags.IntVar(&opts.chunkSeconds, "chunk-seconds", 30, "decode window for chunked offline models")
	flags.BoolVar(&opts.diarizeAudio, "diarize", false, "label segments with speakers")
	flags.StringVar(&opts.diarizeModel, "diarize-model", "models/diarize/wespeaker_resnet34.onnx", "speaker embedding model")
	flags.IntVar(&opts.minSpeakers, "min-speakers", 1, "minimum speaker count")
	flags.IntVar(&opts.maxSpeakers, "max-speakers", 0, "maximum speaker count (0 = unbounded)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, inputs []string) error {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	kind, err := asr.ParseKind(opts.modelType)
	if err != nil {
		return err
	}
	for _, format := range opts.formats {
		if !subtitle.ValidFormat(format) {
			return fmt.Errorf("unsupported output format: %s", format)
		}
	}
	for _, input := range inputs {
		if _, err := os.Stat(input); err != nil {
			return fmt.Errorf("input file: %w", err)
		}
	}

	factory := asr.NewFactory(asr.FactoryConfig{
		ModelRoot:    opts.modelRoot,
		NumThreads:   opts.numThreads,
		SampleRate:   audio.DefaultSampleRate,
		ChunkSeconds: opts.chunkSeconds,
		Logger:       logger,
	})
	adapter, err := factory(asr.Key{
		Kind:        kind,
		Size:        opts.modelSize,
		Device:      opts.device,
		ComputeType: opts.computeType,
	})
	if err != nil {
		return err
	}

	var engine *diarize.Engine
	if opts.diarizeAudio {
		engine, err = diarize.NewEngine(diarize.Config{
			ModelPath:  opts.diarizeModel,
			NumThreads: opts.numThreads,
			SampleRate: audio.DefaultSampleRate,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		defer engine.Close()
	}

	return asr.WithAdapter(adapter, func(a asr.Adapter) error {
		for _, input := range inputs {
			if err := transcribeOne(ctx, a, engine, opts, kind, input, logger); err != nil {
				return fmt.Errorf("%s: %w", input, err)
			}
		}
		return nil
	})
}

func transcribeOne(ctx context.Context, adapter asr.Adapter, engine *diarize.Engine, opts options, kind asr.Kind, input string, logger *slog.Logger) error {
	logger.Info("transcribing", "file", input)

	transcript, err := adapter.Transcribe(ctx, input, opts.language, asr.Params{})
	if err != nil {
		return err
	}

	if engine != nil {
		speakers, err := engine.Diarize(ctx, input, transcript, opts.minSpeakers, opts.maxSpeakers)
		if err != nil {
			return err
		}
		logger.Info("diarized", "speakers", speakers)
	}

	baseName := pipeline.DerivedBaseName(filepath.Base(input), kind)
	for _, format := range subtitle.Expand(opts.formats) {
		path, err := subtitle.WriteFile(opts.outputDir, baseName, format, transcript, subtitle.Options{})
		if err != nil {
			return err
		}
		fmt.Println(path)
	}
	return nil
}
