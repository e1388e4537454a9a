package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"Bt1QMix/config"
	"Bt1QMix/core/analysis"
	"Bt1QMix/core/audio"

	"github.com/spf13/cobra"
)

var analyzeQuiet bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze <audio-file>",
	Short: "Run rhythm analysis on a single audio file",
	Long: `Decode an audio file, run the full rhythm pipeline (onsets, tempo,
beat grid, downbeats, phrases) and print the result as JSON on stdout.
No server, database or audio device is needed.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()

		dec := audio.NewDecoder(cfg.FFmpegPath)
		buf, err := dec.Decode(args[0])
		if err != nil {
			log.Fatalf("Failed to decode %s: %v", args[0], err)
		}
		if !analyzeQuiet {
			fmt.Fprintf(os.Stderr, "decoded %s: %.1fs at %d Hz\n",
				args[0], buf.Seconds(), buf.SampleRate)
		}

		params := analysis.DefaultParams()
		params.Window = cfg.AnalysisWindow
		params.Hop = cfg.AnalysisHop
		params.ChunkFrames = cfg.AnalysisChunkFrames
		params.OnsetThreshold = cfg.OnsetThreshold
		params.MinTempo = cfg.MinTempo
		params.MaxTempo = cfg.MaxTempo
		if !analyzeQuiet {
			params.OnProgress = func(stage string, fraction float64) {
				fmt.Fprintf(os.Stderr, "%-10s %3.0f%%\n", stage, fraction*100)
			}
		}

		rd, err := analysis.NewAnalyzer(params).Analyze(context.Background(), buf)
		if err != nil {
			log.Fatalf("Analysis failed: %v", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rd); err != nil {
			log.Fatalf("Failed to encode result: %v", err)
		}
	},
}

func init() {
	analyzeCmd.Flags().BoolVarP(&analyzeQuiet, "quiet", "q", false, "suppress progress output on stderr")
	rootCmd.AddCommand(analyzeCmd)
}
