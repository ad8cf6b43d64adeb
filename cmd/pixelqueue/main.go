// =============================================================================
// PixelQueue 主入口
// =============================================================================
// 命令行入口：提交生成请求、查看模型列表与历史记录
//
// 使用方法:
//
//	pixelqueue generate "a red fox"                 # 生成一张图片
//	pixelqueue generate -image ref.png "make it blue" # 带参考图
//	pixelqueue models                               # 列出上游模型
//	pixelqueue history -page 2                      # 查看历史
//	pixelqueue history-clear                        # 清空历史
//	pixelqueue version                              # 显示版本信息
// =============================================================================

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/pixelqueue/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches a subcommand and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	var err error
	switch args[0] {
	case "generate":
		err = runGenerate(args[1:], stdout, stderr)
	case "models":
		err = runModels(args[1:], stdout, stderr)
	case "history":
		err = runHistory(args[1:], stdout, stderr)
	case "history-clear":
		err = runHistoryClear(args[1:], stdout, stderr)
	case "version":
		printVersion(stdout)
	case "help", "-h", "--help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "PixelQueue %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `PixelQueue - queued image generation over OpenAI-compatible APIs

Usage:
  pixelqueue <command> [options]

Commands:
  generate       Generate one image per prompt
  models         List models offered by the upstream
  history        Show a page of generation history
  history-clear  Remove all history entries
  version        Show version information
  help           Show this help message

Options for 'generate':
  -config <path>      Path to configuration file (YAML)
  -model <name>       Model override
  -image <path>       Reference image (repeatable)
  -concurrency <n>    Persist a new concurrency limit (1-10)
  -timeout <d>        Per-request timeout, e.g. 90s (1s-600s)
  -out <dir>          Directory for saved images (default ".")

Options for 'history':
  -page <n>           Page number
  -page-size <n>      Page size (6-48)

Environment:
  PIXELQUEUE_API_BASE_URL, PIXELQUEUE_API_API_KEY, PIXELQUEUE_STORAGE_BACKEND, ...

Examples:
  pixelqueue generate "a lighthouse at dusk" "a koi pond"
  pixelqueue generate -image ref.png -out ./images "same scene, winter"
  pixelqueue models -config pixelqueue.yaml
  pixelqueue history -page 2 -page-size 24`)
}

// =============================================================================
// 🔧 配置与日志
// =============================================================================

// loadConfig 加载配置，应用命令行覆盖后校验
func loadConfig(path string, overrides ...func(*config.Config)) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	for _, apply := range overrides {
		apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	// 解析日志级别
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: encoding == "console",
	}

	logger, err := zapConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
