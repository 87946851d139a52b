package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/facextract/internal/logconfig"
	"github.com/andresmejia3/facextract/internal/pipeline"
	"github.com/andresmejia3/facextract/internal/store"
	"github.com/andresmejia3/facextract/internal/utils"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Options holds the extractor's command line configuration
type Options struct {
	ReadDir    string
	SaveDir    string
	LogConfig  string
	Cascade    string
	NoProgress bool
	ResetDB    bool
}

const (
	envLogConfig = "FACE_EXTRACTOR_LOGCONFIG"
	envCascade   = "FACE_EXTRACTOR_CASCADE"

	// exitInterrupted follows the shell convention of 128 + SIGINT.
	exitInterrupted = 130
)

var (
	opts Options

	// DB is the optional run ledger, nil when no database is configured
	DB *store.Store
	// dbURL is the connection string
	dbURL string
	// Logger is built from the logger configuration before the command runs
	Logger *logconfig.Logger
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "face-extractor",
	Short: "Extract face crops from the images embedded in PDF and Word documents",
	Long: `Scans a folder of PDF and Word documents, detects faces in every embedded
image and saves each face as a 128x128 PNG named <document>_face-<i>.png.`,
	Version:       Version,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; values already in the environment win
		_ = godotenv.Load()

		applyEnvDefaults(&opts)

		var err error
		Logger, err = setupLogger(opts.LogConfig)
		if err != nil {
			die("Invalid logger configuration", err)
		}

		url := resolveDBURL(dbURL)
		if url == "" {
			return nil
		}
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), url)
		if err != nil {
			die("Failed to connect to ledger database", err)
		}
		if opts.ResetDB {
			if err := DB.Reset(cmd.Context()); err != nil {
				die("Failed to reset ledger database", err)
			}
			Logger.Info("Ledger database reset")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExtract(cmd.Context(), opts)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeResources()
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	err := rootCmd.ExecuteContext(ctx)
	// Cobra skips PersistentPostRun when RunE fails
	closeResources()
	if err == nil {
		return
	}
	if errors.Is(err, pipeline.ErrAborted) {
		os.Exit(exitInterrupted)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func init() {
	rootCmd.Flags().StringVarP(&opts.ReadDir, "read", "r", "", "Folder containing the PDF and Word documents to scan")
	rootCmd.Flags().StringVarP(&opts.SaveDir, "save", "s", "", "Folder the face images are written to (created if missing)")
	rootCmd.Flags().StringVarP(&opts.LogConfig, "logconfig", "l", "", "Logger configuration file (default: bundled console config, env "+envLogConfig+")")
	rootCmd.Flags().StringVar(&opts.Cascade, "cascade", "", "Pigo face detection cascade file (default: bundled facefinder, env "+envCascade+")")
	rootCmd.Flags().BoolVar(&opts.NoProgress, "no-progress", false, "Disable the progress bar")
	rootCmd.Flags().BoolVar(&opts.ResetDB, "reset-db", false, "Drop and recreate the ledger tables before the run")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for the run ledger (default: built from POSTGRES_* env, disabled if unset)")

	rootCmd.MarkFlagRequired("read")
	rootCmd.MarkFlagRequired("save")
}

// applyEnvDefaults fills flags left empty from the environment.
func applyEnvDefaults(o *Options) {
	if o.LogConfig == "" {
		o.LogConfig = os.Getenv(envLogConfig)
	}
	if o.Cascade == "" {
		o.Cascade = os.Getenv(envCascade)
	}
}

// setupLogger builds the logger from the file at path, or the bundled
// configuration when path is empty.
func setupLogger(path string) (*logconfig.Logger, error) {
	cfg := logconfig.Default()
	if path != "" {
		var err error
		if cfg, err = logconfig.Load(path); err != nil {
			return nil, err
		}
	}
	return cfg.Build()
}

// resolveDBURL returns the ledger connection string: the flag if set,
// otherwise one built from the POSTGRES_* environment. Empty disables the ledger.
func resolveDBURL(flag string) string {
	if flag != "" {
		return flag
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := os.Getenv("POSTGRES_DB")
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
}

// dieFunc reports a fatal startup error and exits.
var dieFunc = utils.Die

// die flushes the logger and closes the ledger before exiting, since
// os.Exit skips deferred and post-run cleanup.
func die(context string, err error) {
	closeResources()
	dieFunc(context, err)
}

func closeResources() {
	if DB != nil {
		// Use Background here because the main context might be cancelled already (due to Ctrl+C)
		// and we still need to send the "Close" command to the DB.
		DB.Close(context.Background())
		DB = nil
	}
	if Logger != nil {
		Logger.Close()
		Logger = nil
	}
}
