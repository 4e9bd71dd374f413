package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/fmueller/voxkey/internal/config"
	"github.com/fmueller/voxkey/internal/logging"
	"github.com/fmueller/voxkey/internal/platform"
	"github.com/fmueller/voxkey/internal/transcribe"
	"github.com/fmueller/voxkey/internal/version"
	"github.com/fmueller/voxkey/internal/worker"
)

type appState struct {
	verbose      bool
	jsonLogs     bool
	logFile      string
	noProgress   bool
	configFile   string
	envFile      string
	provider     string
	model        string
	modelDir     string
	language     string
	autoDownload bool
	copyEmpty    bool

	hotkey        string
	backend       string
	autoType      bool
	autoEnter     bool
	typingDelay   time.Duration
	notifications bool
	minDuration   time.Duration
	preload       bool

	recorder    string
	input       string
	inputFormat string

	overrides map[string]any
	cfgOnce   sync.Once
	cfg       config.Config
	cfgErr    error

	logger   *zap.Logger
	now      func() time.Time
	out      io.Writer
	lockPath string

	transcribeFn func(ctx context.Context, audioPath string) (transcribe.Result, error)
	copyFn       func(ctx context.Context, value string) error

	backendFn  func(kind platform.Kind) (platform.Backend, error)
	captureFn  func(cfg config.Config) (worker.Capture, error)
	providerFn func(ctx context.Context, cfg config.Config) (transcribe.Provider, func(), error)
}

// overrideKeys maps flags to config keys. A flag only overrides the
// config file and environment when it was given on the command line.
var overrideKeys = map[string]string{
	"hotkey":        "hotkey",
	"backend":       "backend",
	"language":      "language",
	"provider":      "active_provider",
	"model-dir":     "model_dir",
	"auto-type":     "auto_type",
	"auto-enter":    "auto_enter",
	"typing-delay":  "typing_delay",
	"notifications": "notifications",
	"min-duration":  "min_duration",
	"preload":       "preload",
	"recorder":      "recorder.backend",
	"input":         "recorder.input",
	"input-format":  "recorder.format",
}

func NewRootCmd() *cobra.Command {
	app := &appState{
		language:      "auto",
		autoDownload:  true,
		hotkey:        "ctrl_r",
		backend:       "auto",
		autoType:      true,
		typingDelay:   12 * time.Millisecond,
		notifications: true,
		minDuration:   300 * time.Millisecond,
		recorder:      "auto",
		now:           time.Now,
		out:           os.Stdout,
	}

	cmd := &cobra.Command{
		Use:   "voxkey",
		Short: "Hold a hotkey, speak, and have the transcript typed into the focused window",
		Long: "voxkey listens for a global hotkey. While the hotkey is held it records from the\n" +
			"microphone; on release the audio is transcribed by the active provider and the\n" +
			"text is copied to the clipboard and typed into the focused application.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New(logging.Options{Verbose: app.verbose, JSON: app.jsonLogs, File: app.logFile})
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			app.logger = logger
			app.language = sanitizeLanguage(app.language)
			app.overrides = collectOverrides(cmd.Flags())
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runDaemon(cmd.Context())
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	bindGlobalFlags(cmd, app)
	bindRecorderFlags(cmd, app)
	bindDaemonFlags(cmd, app)

	cmd.AddCommand(newTranscribeCmd(app))
	cmd.AddCommand(newRecordCmd(app))
	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newPreloadCmd(app))
	cmd.AddCommand(newProvidersCmd(app))
	cmd.AddCommand(newDevicesCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func bindGlobalFlags(cmd *cobra.Command, app *appState) {
	flags := cmd.PersistentFlags()
	flags.BoolVar(&app.verbose, "verbose", app.verbose, "Enable verbose logs")
	flags.BoolVar(&app.jsonLogs, "json", app.jsonLogs, "Enable JSON logging")
	flags.StringVar(&app.logFile, "log-file", app.logFile, "Also write logs to this file")
	flags.BoolVar(&app.noProgress, "no-progress", app.noProgress, "Disable progress indicators")
	flags.StringVar(&app.configFile, "config", app.configFile, "Config file (default is config.yaml in the user config directory)")
	flags.StringVar(&app.envFile, "env-file", app.envFile, "Load credentials from this .env file")
	flags.StringVar(&app.provider, "provider", app.provider, "Transcription provider name from the config")
	flags.StringVar(&app.model, "model", app.model, "Model name or model file path for local providers")
	flags.StringVar(&app.modelDir, "model-dir", app.modelDir, "Directory where models are stored")
	flags.StringVar(&app.language, "language", app.language, "Language code (auto|en|de|...) for transcription")
	flags.BoolVar(&app.autoDownload, "auto-download", app.autoDownload, "Automatically download missing models")
	flags.BoolVar(&app.copyEmpty, "copy-empty", app.copyEmpty, "Copy blank transcripts to clipboard")
}

func bindRecorderFlags(cmd *cobra.Command, app *appState) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&app.recorder, "recorder", app.recorder, "Recording backend: auto|pw-record|arecord|ffmpeg")
	flags.StringVar(&app.input, "input", app.input, "Input device (run \"voxkey devices\" to list); e.g. node-ID (pw-record), hw:1,0 (arecord), :1 (ffmpeg)")
	flags.StringVar(&app.inputFormat, "input-format", app.inputFormat, "Input format for ffmpeg backend (pulse|alsa)")
}

func bindDaemonFlags(cmd *cobra.Command, app *appState) {
	flags := cmd.Flags()
	flags.StringVar(&app.hotkey, "hotkey", app.hotkey, "Hotkey to hold while speaking, e.g. ctrl_r or ctrl+shift+space")
	flags.StringVar(&app.backend, "backend", app.backend, "Desktop backend: auto|x11|wayland|darwin|windows")
	flags.BoolVar(&app.autoType, "auto-type", app.autoType, "Type the transcript into the focused window")
	flags.BoolVar(&app.autoEnter, "auto-enter", app.autoEnter, "Press Enter after typing")
	flags.DurationVar(&app.typingDelay, "typing-delay", app.typingDelay, "Delay between typed characters")
	flags.BoolVar(&app.notifications, "notifications", app.notifications, "Show desktop notifications")
	flags.DurationVar(&app.minDuration, "min-duration", app.minDuration, "Discard recordings shorter than this")
	flags.BoolVar(&app.preload, "preload", app.preload, "Load the local model at startup")
}

func collectOverrides(flags *pflag.FlagSet) map[string]any {
	overrides := map[string]any{}
	for name, key := range overrideKeys {
		f := flags.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		overrides[key] = f.Value.String()
	}
	return overrides
}

// config loads the configuration once per command run.
func (a *appState) config() (config.Config, error) {
	a.cfgOnce.Do(func() {
		cfg, err := config.Load(config.LoadOptions{
			ConfigFile: a.configFile,
			EnvFile:    a.envFile,
			Overrides:  a.overrides,
		})
		if err != nil {
			a.cfgErr = err
			return
		}

		if a.model != "" {
			p, err := cfg.Provider("")
			if err != nil {
				a.cfgErr = err
				return
			}
			if p.Type == transcribe.TypeLocal {
				p.Model = a.model
				cfg.Providers[p.Name] = p
			}
		}

		if cfg.File != "" {
			a.log().Debug("loaded config", zap.String("file", cfg.File))
		}
		a.cfg = cfg
	})
	return a.cfg, a.cfgErr
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) progressEnabled() bool {
	if a.noProgress {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func (a *appState) outWriter() io.Writer {
	if a.out == nil {
		return os.Stdout
	}
	return a.out
}

func (a *appState) clock() time.Time {
	if a.now == nil {
		return time.Now()
	}
	return a.now()
}
