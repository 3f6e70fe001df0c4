package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/user/llm-gateway-proxy/internal/pkg/paths"
	"github.com/user/llm-gateway-proxy/internal/proxyconfig"
	"github.com/user/llm-gateway-proxy/internal/proxymanager"
	"github.com/user/llm-gateway-proxy/internal/proxyserver"
	"github.com/user/llm-gateway-proxy/internal/version"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v":
			fmt.Println(version.Info())
			os.Exit(0)
		case "--check-config":
			if err := runCheckConfig(); err != nil {
				log.Fatalf("check-config: %v", err)
			}
			os.Exit(0)
		case "--help", "-h":
			printUsage()
			os.Exit(0)
		}
	}
	if err := run(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func printUsage() {
	fmt.Printf("llmgatewayd - %s\n\n", version.Short())
	fmt.Println("Usage: llmgatewayd [OPTIONS]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --check-config  Validate and normalize the config file, then exit")
	fmt.Println("  --version, -v   Show version information")
	fmt.Println("  --help, -h      Show this help message")
	fmt.Println()
	fmt.Println("Without options, starts the gateway listener(s) and admin surface.")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println("  LLM_GATEWAY_CONFIG       path to the JSON config document")
	fmt.Println("  LLM_GATEWAY_ADMIN_PORT   port for the admin/metrics mux (default 9090)")
	fmt.Println("  LLM_GATEWAY_LOGS_DIR     directory for rotated log files (default logs)")
	fmt.Println("  LLM_GATEWAY_LOG_LEVEL    debug|info|warn|error (default info)")
}

func runCheckConfig() error {
	cfg, err := proxyconfig.Load(paths.GetConfigPath())
	if err != nil {
		return err
	}
	fmt.Printf("config OK: listen_port=%d services=%d fallback_retries=%d\n",
		cfg.ListenPort, len(cfg.Services), cfg.FallbackRetries)
	return nil
}

func run() error {
	configPath := paths.GetConfigPath()

	cfg, err := proxyconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(os.Getenv("LLM_GATEWAY_LOG_LEVEL"), getLogDir())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting llmgatewayd",
		zap.String("version", version.Short()),
		zap.Int("listen_port", cfg.ListenPort),
		zap.Int("services", len(cfg.Services)),
	)

	manager := proxymanager.NewManager(logger)
	if err := manager.Start(cfg); err != nil {
		return fmt.Errorf("start listener: %w", err)
	}

	watcher, err := proxyconfig.NewWatcher(configPath, logger)
	if err != nil {
		logger.Warn("config watcher disabled", zap.Error(err))
	} else {
		watchCtx, cancelWatch := context.WithCancel(context.Background())
		defer cancelWatch()
		go func() {
			err := watcher.Watch(watchCtx, func(path string) {
				reloaded, err := proxyconfig.Load(path)
				if err != nil {
					logger.Error("config reload failed, keeping previous snapshot", zap.Error(err))
					return
				}
				if err := manager.Reload(reloaded); err != nil {
					logger.Error("reload rejected", zap.Error(err))
					return
				}
				logger.Info("config reloaded", zap.Int("listen_port", reloaded.ListenPort))
			})
			if err != nil {
				logger.Warn("config watcher stopped", zap.Error(err))
			}
		}()
		defer watcher.Stop()
	}

	adminPort := adminPort()
	adminServer := &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", adminPort),
		Handler: proxyserver.NewRouter(manager, logger),
	}
	go func() {
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server error", zap.Error(err))
		}
	}()
	logger.Info("admin surface started", zap.Int("admin_port", adminPort))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin server shutdown", zap.Error(err))
	}

	if err := manager.StopAll(); err != nil {
		return fmt.Errorf("listener shutdown: %w", err)
	}

	logger.Info("stopped")
	return nil
}

func adminPort() int {
	if v := os.Getenv("LLM_GATEWAY_ADMIN_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			return port
		}
	}
	return 9090
}

func getLogDir() string {
	if dir := os.Getenv("LLM_GATEWAY_LOGS_DIR"); dir != "" {
		return dir
	}
	return "logs"
}

// newLogger builds the same JSON-file-plus-colorized-console tee the teacher's
// cmd/llm-proxy/main.go constructs. The file-size/backup/age knobs there came
// from a config struct this binary has no equivalent of, so they are fixed
// here: 100 MB files, 5 backups, 28 days, compressed.
func newLogger(level string, logDir string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug", "DEBUG":
		zapLevel = zap.DebugLevel
	case "warn", "WARN":
		zapLevel = zap.WarnLevel
	case "error", "ERROR":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", logDir, err)
	}

	lj := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "llmgatewayd.log"),
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}

	fileEncoderCfg := zap.NewProductionEncoderConfig()
	fileEncoderCfg.TimeKey = "ts"
	fileEncoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(fileEncoderCfg),
		zapcore.AddSync(lj),
		zapLevel,
	)

	consoleEncoderCfg := zap.NewDevelopmentEncoderConfig()
	consoleEncoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEncoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	consoleEncoder := zapcore.NewConsoleEncoder(consoleEncoderCfg)

	stdoutCore := zapcore.NewCore(
		consoleEncoder,
		zapcore.Lock(os.Stdout),
		zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= zapLevel && l < zapcore.WarnLevel
		}),
	)
	stderrCore := zapcore.NewCore(
		consoleEncoder,
		zapcore.Lock(os.Stderr),
		zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= zapLevel && l >= zapcore.WarnLevel
		}),
	)

	core := zapcore.NewTee(fileCore, stdoutCore, stderrCore)

	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	), nil
}
