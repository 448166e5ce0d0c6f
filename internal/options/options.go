// Package options holds command-line options for the service. Defaults come
// from the environment, which may be populated from a .env file.
package options

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/Brownie44l1/leaf-api/internal/model"
)

// LoadEnv loads .env from the working directory. A missing file is not an error.
func LoadEnv() {
	_ = godotenv.Load()
}

// Options holds all configuration options for the server
type Options struct {
	Server *ServerOptions
	Model  *ModelOptions
	API    *APIOptions
	Bot    *BotOptions
}

// NewOptions creates new options with defaults taken from the environment
func NewOptions() *Options {
	return &Options{
		Server: NewServerOptions(),
		Model:  NewModelOptions(),
		API:    NewAPIOptions(),
		Bot:    NewBotOptions(),
	}
}

// AddFlags adds flags for all option groups to the given FlagSet
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	o.Server.AddFlags(fs)
	o.Model.AddFlags(fs)
	o.API.AddFlags(fs)
	o.Bot.AddFlags(fs)
}

// Validate validates all options
func (o *Options) Validate() error {
	if err := o.Server.Validate(); err != nil {
		return fmt.Errorf("server options validation failed: %w", err)
	}

	if err := o.Model.Validate(); err != nil {
		return fmt.Errorf("model options validation failed: %w", err)
	}

	if err := o.API.Validate(); err != nil {
		return fmt.Errorf("api options validation failed: %w", err)
	}

	return nil
}

// ServerOptions holds listener options
type ServerOptions struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		Host:            envString("HOST", "0.0.0.0"),
		Port:            envInt("PORT", 8000),
		ShutdownTimeout: 15 * time.Second,
	}
}

func (o *ServerOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Host, "host", o.Host, "API server host")
	fs.IntVar(&o.Port, "port", o.Port, "API server port")
	fs.DurationVar(&o.ShutdownTimeout, "shutdown-timeout", o.ShutdownTimeout, "grace period for in-flight requests on shutdown")
}

func (o *ServerOptions) Validate() error {
	if o.Port < 1 || o.Port > 65535 {
		return fmt.Errorf("port %d out of range", o.Port)
	}
	if o.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// Addr is the listen address.
func (o *ServerOptions) Addr() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

// ModelOptions locate the model files and select the runtime
type ModelOptions struct {
	WeightsPath    string
	BackbonePath   string
	BackboneInput  string
	BackboneOutput string
	Device         string
	LibraryPath    string
	IntraOpThreads int
}

func NewModelOptions() *ModelOptions {
	root := projectRoot()
	return &ModelOptions{
		WeightsPath:    envString("MODEL_WEIGHTS", filepath.Join(root, "models", "best_tomato_model.json")),
		BackbonePath:   envString("MODEL_BACKBONE", filepath.Join(root, "models", "backbone.onnx")),
		BackboneInput:  "input",
		BackboneOutput: "features",
		Device:         envString("MODEL_DEVICE", string(model.DeviceAuto)),
		LibraryPath:    os.Getenv("ORT_LIBRARY_PATH"),
	}
}

func (o *ModelOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.WeightsPath, "weights", o.WeightsPath, "classification head checkpoint (JSON, optionally gzip-compressed)")
	fs.StringVar(&o.BackbonePath, "backbone", o.BackbonePath, "ONNX backbone model")
	fs.StringVar(&o.BackboneInput, "backbone-input", o.BackboneInput, "backbone input tensor name")
	fs.StringVar(&o.BackboneOutput, "backbone-output", o.BackboneOutput, "backbone feature tensor name")
	fs.StringVar(&o.Device, "device", o.Device, "compute device: auto, cpu, gpu")
	fs.StringVar(&o.LibraryPath, "ort-library", o.LibraryPath, "path to the onnxruntime shared library")
	fs.IntVar(&o.IntraOpThreads, "intra-op-threads", o.IntraOpThreads, "onnxruntime intra-op threads, 0 for the runtime default")
}

func (o *ModelOptions) Validate() error {
	if o.WeightsPath == "" {
		return fmt.Errorf("weights path is required")
	}
	if o.BackbonePath == "" {
		return fmt.Errorf("backbone path is required")
	}
	if o.BackboneInput == "" || o.BackboneOutput == "" {
		return fmt.Errorf("backbone tensor names are required")
	}
	if _, err := model.ParseDevice(o.Device); err != nil {
		return err
	}
	if o.IntraOpThreads < 0 {
		return fmt.Errorf("intra-op threads must not be negative")
	}
	return nil
}

// ServerConfig converts the options to the inference service configuration.
func (o *ModelOptions) ServerConfig() (model.Options, error) {
	device, err := model.ParseDevice(o.Device)
	if err != nil {
		return model.Options{}, err
	}

	return model.Options{
		WeightsPath:       o.WeightsPath,
		BackbonePath:      o.BackbonePath,
		BackboneInput:     o.BackboneInput,
		BackboneOutput:    o.BackboneOutput,
		Device:            device,
		IntraOpThreads:    o.IntraOpThreads,
		SharedLibraryPath: o.LibraryPath,
	}, nil
}

// APIOptions holds HTTP application options
type APIOptions struct {
	GinMode        string
	FrontendDir    string
	MaxUploadBytes int64
}

func NewAPIOptions() *APIOptions {
	return &APIOptions{
		GinMode:        gin.ReleaseMode,
		FrontendDir:    envString("FRONTEND_DIR", filepath.Join(projectRoot(), "frontend")),
		MaxUploadBytes: 32 << 20,
	}
}

func (o *APIOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.GinMode, "gin-mode", o.GinMode, "gin mode: debug, release, test")
	fs.StringVar(&o.FrontendDir, "frontend-dir", o.FrontendDir, "directory served under /frontend")
	fs.Int64Var(&o.MaxUploadBytes, "max-upload-bytes", o.MaxUploadBytes, "maximum /predict request size")
}

func (o *APIOptions) Validate() error {
	switch o.GinMode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
	default:
		return fmt.Errorf("unknown gin mode %q", o.GinMode)
	}
	if o.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive")
	}
	return nil
}

// BotOptions configure the optional Telegram front-end
type BotOptions struct {
	TelegramToken string
}

func NewBotOptions() *BotOptions {
	return &BotOptions{
		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),
	}
}

func (o *BotOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.TelegramToken, "telegram-token", o.TelegramToken, "Telegram bot token; the bot is disabled when empty")
}

// Enabled reports whether the bot should run.
func (o *BotOptions) Enabled() bool {
	return o.TelegramToken != ""
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// projectRoot is the working directory, or the repository root when started
// from cmd/server.
func projectRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	if filepath.Base(wd) == "server" && filepath.Base(filepath.Dir(wd)) == "cmd" {
		return filepath.Join(wd, "..", "..")
	}
	return wd
}
