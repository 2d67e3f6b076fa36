package log

import (
	"io"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxLogSizeMB = 10
	maxLogFiles  = 5
)

// rotatingWriter returns a size-rotated file sink: 10 MiB per file, five
// files kept.
func rotatingWriter(path string) io.Writer {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogFiles - 1,
		Compress:   false,
	}
}

// levelFilterWriter drops every entry below its threshold. It satisfies
// zerolog.LevelWriter so MultiLevelWriter can route by level.
type levelFilterWriter struct {
	w   io.Writer
	min zerolog.Level
}

func (l levelFilterWriter) Write(p []byte) (int, error) {
	// Level-less writes (zerolog.NoLevel) bypass the filter.
	return l.w.Write(p)
}

func (l levelFilterWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < l.min {
		return len(p), nil
	}
	return l.w.Write(p)
}

// errorOnlyWriter is the `<service>_errors.log` sink: rotated like the main
// log but fed only ERROR and above.
func errorOnlyWriter(path string) zerolog.LevelWriter {
	return levelFilterWriter{w: rotatingWriter(path), min: zerolog.ErrorLevel}
}
