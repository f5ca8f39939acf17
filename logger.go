package main

import (
	"fmt"
	"os"

	"github.com/fansqz/go-debug-mediator/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

var logFile *os.File

// SetupLogger 配置 logrus
// 指定了日志文件时写入文件，否则写入 stderr
// stdio 模式下 stdout 被 MCP 协议占用，日志不能写到 stdout
func SetupLogger(cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	logrus.SetLevel(level)

	if cfg.Path != "" {
		logFile, err = os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		logrus.SetOutput(logFile)
	} else {
		logrus.SetOutput(os.Stderr)
	}

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return nil
	}
	// 只有输出到终端时才使用颜色
	colors := logFile == nil && term.IsTerminal(int(os.Stderr.Fd()))
	logrus.SetFormatter(&logrus.TextFormatter{
		ForceColors:   colors,
		DisableColors: !colors,
		FullTimestamp: true,
	})
	return nil
}

func CloseLogger() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}
