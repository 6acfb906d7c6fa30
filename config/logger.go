package config

import (
	"io"

	"github.com/hashicorp/go-hclog"
)

// NewLogger 创建根日志，未知级别按 info 处理
func NewLogger(name, level string, w io.Writer) hclog.Logger {
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   name,
		Level:  lvl,
		Output: w,
	})
}
