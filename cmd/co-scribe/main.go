package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yegors/co-scribe/internal/config"
	"github.com/yegors/co-scribe/pkg/logger"
)

const (
	defaultConfigPath = "configs/config.toml"
	defaultEnvFile    = ".env"
	shutdownTimeout   = 10 * time.Second
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: co-scribe <command> [flags]

Commands:
  serve        run the HTTP and dictation API
  transcribe   transcribe a PCM16 mono WAV file and print the text

Run "co-scribe <command> -h" for command flags.
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "transcribe":
		err = runTranscribe(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// commonFlags registers the flags shared by every command
func commonFlags(fs *flag.FlagSet) (configPath, envFile *string) {
	configPath = fs.String("config", defaultConfigPath, "Path to TOML configuration file (empty for defaults)")
	envFile = fs.String("env", defaultEnvFile, "Path to .env file with API keys")
	return configPath, envFile
}

func loadConfig(configPath, envFile string) (*config.Config, *logger.Logger, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) && configPath == defaultConfigPath {
			configPath = ""
		}
	}

	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return nil, nil, err
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return cfg, log, nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath, envFile := commonFlags(fs)
	fs.Parse(args)

	cfg, log, err := loadConfig(*configPath, *envFile)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(cfg, log, true)
	if err != nil {
		return err
	}
	defer app.Close()

	return app.Serve(ctx)
}

func runTranscribe(args []string) error {
	fs := flag.NewFlagSet("transcribe", flag.ExitOnError)
	configPath, envFile := commonFlags(fs)
	modelID := fs.String("model", "", "Model ID from the catalog (default model when empty)")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("transcribe takes exactly one WAV file")
	}

	cfg, log, err := loadConfig(*configPath, *envFile)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(cfg, log, false)
	if err != nil {
		return err
	}
	defer app.Close()

	text, err := app.service.TranscribeFile(ctx, *modelID, fs.Arg(0))
	if err != nil {
		return err
	}

	fmt.Println(text)
	return nil
}
