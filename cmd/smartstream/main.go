// smartstream streams a shared screen and microphone to a conversational
// backend and plays back its spoken replies.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ashureev/smartstream/internal/audio"
	"github.com/ashureev/smartstream/internal/capture"
	"github.com/ashureev/smartstream/internal/config"
	"github.com/ashureev/smartstream/internal/session"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"

	envFile     string
	backendURL  string
	screenPath  string
	micPath     string
	speakerPath string
	noMic       bool
)

var rootCmd = &cobra.Command{
	Use:   "smartstream",
	Short: "Screen and microphone streaming client",
	Long:  `smartstream shares a screen and microphone with a streaming backend and plays its replies`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(envFile); err != nil {
			slog.Info("No .env file found, using environment variables", "path", envFile)
		}
	},
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("smartstream v%s\n", version)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flags.StringVar(&backendURL, "backend", "", "backend WebSocket URL (overrides BACKEND_URL)")
	flags.StringVar(&screenPath, "screen", "", "screenshot file to share (overrides SCREEN_SOURCE)")
	flags.StringVar(&micPath, "mic", "", "raw s16le 16 kHz microphone stream, - for stdin (overrides MIC_SOURCE)")
	flags.StringVar(&speakerPath, "speaker", "", "raw s16le 24 kHz playback sink, - for stdout (overrides SPEAKER_SINK)")
	flags.BoolVar(&noMic, "no-mic", false, "stream silence instead of a microphone")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies the command line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Parse()

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend.URL = backendURL
	}
	if flags.Changed("screen") {
		cfg.Media.ScreenSource = screenPath
	}
	if flags.Changed("mic") {
		cfg.Media.MicSource = micPath
	}
	if flags.Changed("speaker") {
		cfg.Media.SpeakerSink = speakerPath
	}
	if noMic {
		cfg.Media.MicEnabled = false
	}
	if flags.Changed("port") {
		cfg.Port = port
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupLogger installs a JSON slog logger at the configured level. Logs go
// to stderr when stdout carries playback audio.
func setupLogger(cfg *config.Config) *slog.Logger {
	out := os.Stdout
	if cfg.Media.SpeakerSink == "-" {
		out = os.Stderr
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(cfg.LogLevel))); err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: lvl,
	}))
	slog.SetDefault(logger)
	return logger
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		BackendURL:    cfg.Backend.URL,
		DialTimeout:   cfg.Backend.DialTimeout,
		FrameInterval: cfg.Media.FrameInterval,
		FlushInterval: cfg.Media.FlushInterval,
		JPEGQuality:   cfg.Media.JPEGQuality,
	}
}

func devicesFromConfig(cfg *config.Config, logger *slog.Logger) (session.Devices, error) {
	if cfg.Media.ScreenSource == "" {
		return session.Devices{}, fmt.Errorf("no screen source configured, set SCREEN_SOURCE or --screen")
	}

	var mic audio.Microphone = audio.SilenceMicrophone{}
	if cfg.Media.MicEnabled {
		if cfg.Media.MicSource == "" {
			return session.Devices{}, fmt.Errorf("no microphone configured, set MIC_SOURCE or --mic, or disable it with MIC_ENABLED=false")
		}
		mic = audio.FileMicrophone(cfg.Media.MicSource, logger)
	}

	return session.Devices{
		Screen:     capture.FileScreen{Path: cfg.Media.ScreenSource},
		Microphone: mic,
		Speaker:    audio.FileSpeaker{Path: cfg.Media.SpeakerSink, Logger: logger},
	}, nil
}
