package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kluth/npm-feature-extractor/internal/analyzer"
	"github.com/kluth/npm-feature-extractor/internal/extract"
	"github.com/kluth/npm-feature-extractor/internal/features"
	"github.com/kluth/npm-feature-extractor/internal/policy"
	"github.com/kluth/npm-feature-extractor/internal/registry"
	"github.com/kluth/npm-feature-extractor/internal/reporter"
	"github.com/kluth/npm-feature-extractor/internal/tarball"
)

const (
	configBaseName = ".npmfeat"
	configFileName = configBaseName + ".yaml"
	envPrefix      = "NPMFEAT"

	maxFileSizeKey          = "scan.max-file-size"
	maxStringLengthKey      = "scan.max-string-length"
	maxPositionsKey         = "scan.max-positions"
	workersKey              = "scan.workers"
	extensionsKey           = "scan.extensions"
	excludeKey              = "scan.exclude"
	tolerateSyntaxErrorsKey = "scan.tolerate-syntax-errors"
	cacheSizeKey            = "scan.cache-size"
	sensitiveKeywordsKey    = "patterns.sensitive-keywords"
	networkCommandsKey      = "patterns.network-commands"
	batchConcurrencyKey     = "batch.concurrency"
	batchDepthKey           = "batch.depth"
	formatKey               = "output.format"
	outputFileKey           = "output.file"
	featuresDirKey          = "output.features-dir"
	positionsDirKey         = "output.positions-dir"
	registryURLKey          = "registry.url"
	registryTimeoutKey      = "registry.timeout"
	archiveMaxTotalSizeKey  = "archive.max-total-size"
	archiveMaxFileSizeKey   = "archive.max-file-size"
	archiveMaxFilesKey      = "archive.max-files"
	policyEnforceKey        = "policy.enforce"
	policyKey               = "policy"

	logLevelKey      = "log.level"
	logFilenameKey   = "log.filename"
	logMaxSizeKey    = "log.max-size"
	logMaxBackupsKey = "log.max-backups"
	logMaxAgeKey     = "log.max-age"
	logCompressKey   = "log.compress"

	defaultCacheSize        = 1024
	defaultBatchConcurrency = 4
	defaultLogMaxSize       = 10
	defaultLogMaxBackups    = 3
	defaultLogMaxAge        = 28
)

// settings is the resolved configuration of one invocation.
type settings struct {
	Scan struct {
		MaxFileSize          int64
		MaxStringLength      int
		MaxPositions         int
		Workers              int
		Extensions           []string
		Exclude              []string
		TolerateSyntaxErrors bool
		CacheSize            int
	}
	SensitiveKeywords []string
	NetworkCommands   []string
	BatchConcurrency  int
	BatchDepth        int
	Format            string
	OutputFile        string
	FeaturesDir       string
	PositionsDir      string
	RegistryURL       string
	RegistryTimeout   time.Duration
	Archive           tarball.Limits
	EnforcePolicy     bool
	Policy            policy.Policy
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault(maxFileSizeKey, int64(extract.DefaultMaxFileSize))
	v.SetDefault(maxStringLengthKey, analyzer.DefaultMaxStringLength)
	v.SetDefault(maxPositionsKey, features.DefaultMaxPositions)
	v.SetDefault(workersKey, 1)
	v.SetDefault(extensionsKey, extract.DefaultExtensions)
	v.SetDefault(excludeKey, []string{})
	v.SetDefault(tolerateSyntaxErrorsKey, false)
	v.SetDefault(cacheSizeKey, defaultCacheSize)
	v.SetDefault(sensitiveKeywordsKey, []string{})
	v.SetDefault(networkCommandsKey, []string{})
	v.SetDefault(batchConcurrencyKey, defaultBatchConcurrency)
	v.SetDefault(batchDepthKey, 0)
	v.SetDefault(formatKey, reporter.FormatTerminal)
	v.SetDefault(outputFileKey, "")
	v.SetDefault(featuresDirKey, "")
	v.SetDefault(positionsDirKey, "")
	v.SetDefault(registryURLKey, registry.DefaultRegistry)
	v.SetDefault(registryTimeoutKey, registry.DefaultTimeout)
	v.SetDefault(archiveMaxTotalSizeKey, tarball.DefaultLimits.MaxTotalSize)
	v.SetDefault(archiveMaxFileSizeKey, tarball.DefaultLimits.MaxFileSize)
	v.SetDefault(archiveMaxFilesKey, tarball.DefaultLimits.MaxFiles)
	v.SetDefault(policyEnforceKey, false)

	v.SetDefault(logLevelKey, "info")
	v.SetDefault(logFilenameKey, "")
	v.SetDefault(logMaxSizeKey, defaultLogMaxSize)
	v.SetDefault(logMaxBackupsKey, defaultLogMaxBackups)
	v.SetDefault(logMaxAgeKey, defaultLogMaxAge)
	v.SetDefault(logCompressKey, true)
	return v
}

// findConfigFile returns the first config file found in the working
// directory or the user config directory.
func findConfigFile() string {
	if _, err := os.Stat(configFileName); err == nil {
		return configFileName
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	p := filepath.Join(home, ".config", "npmfeat", "config.yaml")
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}

// readConfig loads .env and the config file into v. An explicit path must
// exist; the default locations are optional.
func readConfig(v *viper.Viper, path string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	if path == "" {
		path = findConfigFile()
	}
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return nil
}

// bindFlagToConfig wires a Cobra flag to a Viper key so config/env values feed the flag.
func bindFlagToConfig(v *viper.Viper, flag *pflag.Flag, key string) {
	if flag == nil {
		cobra.CheckErr(fmt.Errorf("flag for config key %q not found", key))
		return
	}
	cobra.CheckErr(v.BindPFlag(key, flag))
}

func resolveSettings(v *viper.Viper) (settings, error) {
	var s settings
	s.Scan.MaxFileSize = v.GetInt64(maxFileSizeKey)
	s.Scan.MaxStringLength = v.GetInt(maxStringLengthKey)
	s.Scan.MaxPositions = v.GetInt(maxPositionsKey)
	s.Scan.Workers = v.GetInt(workersKey)
	s.Scan.Extensions = v.GetStringSlice(extensionsKey)
	s.Scan.Exclude = v.GetStringSlice(excludeKey)
	s.Scan.TolerateSyntaxErrors = v.GetBool(tolerateSyntaxErrorsKey)
	s.Scan.CacheSize = v.GetInt(cacheSizeKey)
	s.SensitiveKeywords = v.GetStringSlice(sensitiveKeywordsKey)
	s.NetworkCommands = v.GetStringSlice(networkCommandsKey)
	s.BatchConcurrency = v.GetInt(batchConcurrencyKey)
	s.BatchDepth = v.GetInt(batchDepthKey)
	s.Format = v.GetString(formatKey)
	s.OutputFile = v.GetString(outputFileKey)
	s.FeaturesDir = v.GetString(featuresDirKey)
	s.PositionsDir = v.GetString(positionsDirKey)
	s.RegistryURL = v.GetString(registryURLKey)
	s.RegistryTimeout = v.GetDuration(registryTimeoutKey)
	s.Archive = tarball.Limits{
		MaxTotalSize: v.GetInt64(archiveMaxTotalSizeKey),
		MaxFileSize:  v.GetInt64(archiveMaxFileSizeKey),
		MaxFiles:     v.GetInt(archiveMaxFilesKey),
	}
	s.EnforcePolicy = v.GetBool(policyEnforceKey)

	if err := v.UnmarshalKey(policyKey, &s.Policy); err != nil {
		return s, fmt.Errorf("invalid policy: %w", err)
	}
	if !reporter.ValidFormat(s.Format) {
		return s, fmt.Errorf("invalid format %q: must be one of %s", s.Format, strings.Join(reporter.Formats(), ", "))
	}
	if s.Scan.Workers < 1 {
		return s, fmt.Errorf("%s must be at least 1", workersKey)
	}
	if s.BatchConcurrency < 1 {
		return s, fmt.Errorf("%s must be at least 1", batchConcurrencyKey)
	}
	return s, nil
}

func parseSlogLevel(value string, defaultLevel slog.Level) slog.Level {
	level := strings.ToLower(strings.TrimSpace(value))
	if level == "" {
		return defaultLevel
	}

	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}

	// Allow numeric slog levels as well (e.g. -4 for debug).
	if n, err := strconv.Atoi(level); err == nil {
		return slog.Level(n)
	}

	return defaultLevel
}

// configureLoggers returns the console logger and the diagnostics logger.
// Diagnostics go to a rotating file when log.filename is set and are
// discarded otherwise.
func configureLoggers(v *viper.Viper, stderr io.Writer, verbose, quiet bool) (logger, diag *slog.Logger, closer io.Closer) {
	level := parseSlogLevel(v.GetString(logLevelKey), slog.LevelInfo)
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelError
	}
	logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	logPath := strings.TrimSpace(v.GetString(logFilenameKey))
	if logPath == "" {
		return logger, slog.New(slog.DiscardHandler), nil
	}

	logWriter := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    v.GetInt(logMaxSizeKey),
		MaxBackups: v.GetInt(logMaxBackupsKey),
		MaxAge:     v.GetInt(logMaxAgeKey),
		Compress:   v.GetBool(logCompressKey),
	}
	diag = slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, diag, logWriter
}
