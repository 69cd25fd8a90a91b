package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/photo3d/photo3d/accel"
	"github.com/photo3d/photo3d/handler"
	"github.com/photo3d/photo3d/handler/backend"
	"github.com/photo3d/photo3d/handler/trace"
)

const noPhotoMessage = "Please add a photo or video if you want to see anything happen!"

// factoryBuilder turns the loaded handler config into an ImageHandler factory.
type factoryBuilder func(cfg handler.Config, tr *trace.Trace) (handler.Factory, error)

// defaultFactory wires the configured converter backend into handler.Handler.
func defaultFactory(cfg handler.Config, tr *trace.Trace) (handler.Factory, error) {
	b, err := backend.New(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}
	return handler.NewFactory(cfg, b, tr), nil
}

// rootOptions holds the CLI flags shared by the root command and its subcommands.
type rootOptions struct {
	photo       string           // Photo to convert
	logLevel    string           // Log verbosity level
	configPath  string           // photo3d.yaml location
	envFile     string           // dotenv file loaded before the converter runs
	cudaDevices string           // CUDA_VISIBLE_DEVICES override
	timeout     handler.Duration // Per-conversion timeout override

	build factoryBuilder
}

// newRootCmd builds the base command for the CLI
func newRootCmd(build factoryBuilder) *cobra.Command {
	o := &rootOptions{build: build}
	root := &cobra.Command{
		Use:               "photo3d",
		Short:             "Process 2D Photos & Videos",
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		PersistentPreRunE: o.setupLogging,
		RunE:              o.runPhoto,
	}

	root.Flags().StringVar(&o.photo, "photo", "", "a file path to a photo")

	root.PersistentFlags().StringVar(&o.logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	root.PersistentFlags().StringVar(&o.configPath, "config", "", "Path to photo3d.yaml (default: ./photo3d.yaml, then ~/.photo3d/config.yaml)")
	root.PersistentFlags().StringVar(&o.envFile, "env-file", ".env", "Path to a .env file (ignored if missing)")
	root.PersistentFlags().StringVar(&o.cudaDevices, "cuda-devices", "", "Comma-separated GPU indices exported as CUDA_VISIBLE_DEVICES")
	root.PersistentFlags().Var(&o.timeout, "timeout", "Per-photo conversion timeout, e.g. 90s, 10m, 1d (overrides config)")

	root.AddCommand(newWatchCmd(o))
	return root
}

// setupLogging sends logs to stdout at the requested level.
func (o *rootOptions) setupLogging(cmd *cobra.Command, _ []string) error {
	level, err := logrus.ParseLevel(o.logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", o.logLevel, err)
	}
	logrus.SetOutput(cmd.OutOrStdout())
	logrus.SetLevel(level)
	return nil
}

// runPhoto converts --photo, or explains how to use the tool when it is absent.
// Failures from the handler are returned unchanged.
func (o *rootOptions) runPhoto(cmd *cobra.Command, _ []string) error {
	if o.photo == "" {
		logrus.Info(noPhotoMessage)
		return nil
	}
	factory, _, err := o.prepare(cmd, nil)
	if err != nil {
		return err
	}
	h, err := factory(o.photo)
	if err != nil {
		return err
	}
	return h.Make3DImage(cmd.Context())
}

// prepare loads the environment and configuration, applies flag overrides and
// the accelerator settings, and builds the handler factory.
func (o *rootOptions) prepare(cmd *cobra.Command, tr *trace.Trace) (handler.Factory, Config, error) {
	if err := loadDotEnv(o.envFile); err != nil {
		return nil, Config{}, err
	}

	path := resolveConfigPath(o.configPath, userHome())
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, Config{}, err
	}
	if path == "" {
		logrus.Debug("no config file found, using built-in defaults")
	} else {
		logrus.Debugf("using config %s", path)
	}

	// Flags override file values only when explicitly set.
	if cmd.Flags().Changed("cuda-devices") {
		cfg.Accelerator.CUDAVisibleDevices = o.cudaDevices
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Handler.Timeout = o.timeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, Config{}, err
	}

	if err := accel.PinCUDADevices(cfg.Accelerator.CUDAVisibleDevices); err != nil {
		return nil, Config{}, err
	}
	if v := os.Getenv(accel.CUDAVisibleDevicesEnv); v != "" {
		logrus.Debugf("%s=%s", accel.CUDAVisibleDevicesEnv, v)
	}

	factory, err := o.build(cfg.Handler, tr)
	if err != nil {
		return nil, Config{}, err
	}
	return factory, cfg, nil
}

// execute enables the MPS fallback before any argument is parsed, then runs root.
func execute(ctx context.Context, root *cobra.Command, args []string) error {
	if err := accel.EnableMPSFallback(); err != nil {
		return err
	}
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// Execute runs the CLI root command
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := execute(ctx, newRootCmd(defaultFactory), os.Args[1:]); err != nil {
		cancel()
		os.Exit(1)
	}
}
