// Package logconfig loads dictConfig-style logger configurations and builds
// zap loggers from them.
package logconfig

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

//go:embed logconfig.json
var defaultConfig []byte

// Config mirrors the handlers/formatters/loggers layout of a logging config file.
type Config struct {
	Version    int                   `yaml:"version"`
	Formatters map[string]Formatter  `yaml:"formatters"`
	Handlers   map[string]Handler    `yaml:"handlers"`
	Loggers    map[string]LoggerSpec `yaml:"loggers"`
	Root       LoggerSpec            `yaml:"root"`

	// Name is the first key of the loggers mapping, the logger instance to use.
	Name string `yaml:"-"`
}

// Formatter selects the record encoding. Encoding is "console" or "json".
type Formatter struct {
	Encoding string `yaml:"encoding"`
	Format   string `yaml:"format"`
	DateFmt  string `yaml:"datefmt"`
}

// Handler is a log sink.
type Handler struct {
	Class     string `yaml:"class"`
	Level     string `yaml:"level"`
	Formatter string `yaml:"formatter"`
	Stream    string `yaml:"stream"`
	Filename  string `yaml:"filename"`
}

// LoggerSpec binds a level to a list of handler names.
type LoggerSpec struct {
	Level    string   `yaml:"level"`
	Handlers []string `yaml:"handlers"`
}

// Logger is a built zap logger plus the sinks it owns.
type Logger struct {
	*zap.Logger
	closers []func()
}

// Close flushes buffered records and releases file sinks.
func (l *Logger) Close() {
	if l.Logger != nil {
		// Sync on a terminal returns EINVAL on some platforms
		_ = l.Logger.Sync()
	}
	for _, c := range l.closers {
		c()
	}
	l.closers = nil
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read logger config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse logger config %q: %w", path, err)
	}
	return cfg, nil
}

// Default returns the bundled configuration.
func Default() *Config {
	cfg, err := Parse(defaultConfig)
	if err != nil {
		panic(fmt.Sprintf("embedded logconfig.json is invalid: %v", err))
	}
	return cfg
}

// Parse decodes a JSON (or YAML) configuration. The node tree is kept so the
// first key of "loggers" can be read in document order.
func Parse(data []byte) (*Config, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, errors.New("empty configuration")
	}

	var cfg Config
	if err := root.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.Name = firstKey(root.Content[0], "loggers")
	if cfg.Name == "" {
		return nil, errors.New(`no logger defined under "loggers"`)
	}
	return &cfg, nil
}

func firstKey(mapping *yaml.Node, key string) string {
	if mapping.Kind != yaml.MappingNode {
		return ""
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value != key {
			continue
		}
		val := mapping.Content[i+1]
		if val.Kind == yaml.MappingNode && len(val.Content) > 0 {
			return val.Content[0].Value
		}
		return ""
	}
	return ""
}

// Build constructs the logger named by cfg.Name, teeing one core per handler.
// A logger without handlers or level inherits them from the root section.
func (cfg *Config) Build() (*Logger, error) {
	lspec := cfg.Loggers[cfg.Name]
	if lspec.Level == "" {
		lspec.Level = cfg.Root.Level
	}
	if len(lspec.Handlers) == 0 {
		lspec.Handlers = cfg.Root.Handlers
	}
	if len(lspec.Handlers) == 0 {
		return nil, fmt.Errorf("logger %q has no handlers and root defines none", cfg.Name)
	}

	loggerLevel, err := parseLevel(lspec.Level)
	if err != nil {
		return nil, fmt.Errorf("logger %q: %w", cfg.Name, err)
	}

	l := &Logger{}
	var cores []zapcore.Core
	for _, name := range lspec.Handlers {
		h, ok := cfg.Handlers[name]
		if !ok {
			l.Close()
			return nil, fmt.Errorf("logger %q references unknown handler %q", cfg.Name, name)
		}
		core, closer, err := cfg.buildCore(h, loggerLevel)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("handler %q: %w", name, err)
		}
		l.closers = append(l.closers, closer)
		cores = append(cores, core)
	}

	l.Logger = zap.New(zapcore.NewTee(cores...)).Named(cfg.Name)
	return l, nil
}

func (cfg *Config) buildCore(h Handler, loggerLevel zapcore.Level) (zapcore.Core, func(), error) {
	level, err := parseLevel(h.Level)
	if err != nil {
		return nil, nil, err
	}
	if loggerLevel > level {
		level = loggerLevel
	}

	var f Formatter
	if h.Formatter != "" {
		var ok bool
		if f, ok = cfg.Formatters[h.Formatter]; !ok {
			return nil, nil, fmt.Errorf("unknown formatter %q", h.Formatter)
		}
	}
	enc, err := newEncoder(f)
	if err != nil {
		return nil, nil, err
	}

	sink, err := sinkPath(h)
	if err != nil {
		return nil, nil, err
	}
	ws, closer, err := zap.Open(sink)
	if err != nil {
		return nil, nil, err
	}

	threshold := level
	enabler := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= threshold })
	return zapcore.NewCore(enc, ws, enabler), closer, nil
}

func newEncoder(f Formatter) (zapcore.Encoder, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if f.DateFmt != "" {
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(f.DateFmt)
	}

	switch strings.ToLower(f.Encoding) {
	case "", "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(encCfg), nil
	case "json":
		return zapcore.NewJSONEncoder(encCfg), nil
	default:
		return nil, fmt.Errorf("unknown encoding %q", f.Encoding)
	}
}

// sinkPath maps a handler to a zap.Open target.
func sinkPath(h Handler) (string, error) {
	class := strings.ToLower(h.Class)
	switch {
	case class == "file" || strings.HasSuffix(class, "filehandler"):
		if h.Filename == "" {
			return "", errors.New("file handler without filename")
		}
		return h.Filename, nil
	case class == "" || class == "stream" || strings.HasSuffix(class, "streamhandler"):
		switch strings.TrimPrefix(strings.ToLower(h.Stream), "ext://sys.") {
		case "", "stderr":
			return "stderr", nil
		case "stdout":
			return "stdout", nil
		default:
			return "", fmt.Errorf("unknown stream %q", h.Stream)
		}
	default:
		return "", fmt.Errorf("unsupported handler class %q", h.Class)
	}
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NOTSET", "DEBUG":
		return zapcore.DebugLevel, nil
	case "INFO":
		return zapcore.InfoLevel, nil
	case "WARNING", "WARN":
		return zapcore.WarnLevel, nil
	case "ERROR":
		return zapcore.ErrorLevel, nil
	case "CRITICAL", "FATAL":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.DebugLevel, fmt.Errorf("unknown level %q", s)
	}
}
