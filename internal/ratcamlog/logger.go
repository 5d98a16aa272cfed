// Package ratcamlog is the structured logging facade shared by the three
// ratcam processes (MAIN, CAMERA, CHAT). It wraps zap so every component
// logs through the same Attrib vocabulary regardless of which process it
// runs in.
package ratcamlog

import (
	"net/url"
	"time"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Attrib is a structured logging field.
type Attrib = zap.Field

func String(name, value string) Attrib       { return zap.String(name, value) }
func Error(err error) Attrib                 { return zap.Error(err) }
func Bool(name string, value bool) Attrib    { return zap.Bool(name, value) }
func Any(name string, value interface{}) Attrib { return zap.Any(name, value) }
func Int(name string, value int) Attrib      { return zap.Int(name, value) }
func Time(name string, value time.Time) Attrib { return zap.Time(name, value) }
func Duration(name string, value time.Duration) Attrib { return zap.Duration(name, value) }

// Logger is the logging surface every ratcam component depends on.
type Logger interface {
	With(attrs ...Attrib) Logger
	Info(msg string, attrs ...Attrib)
	Error(msg string, attrs ...Attrib)
	Warn(msg string, attrs ...Attrib)
	Debug(msg string, attrs ...Attrib)
	Fatal(msg string, attrs ...Attrib)
}

type logger struct {
	zap *zap.Logger
}

// New builds a Logger. debug selects zap's development config (console
// encoding, debug level); logFile, when non-empty, mirrors output through
// lumberjack for rotation, matching the teacher's "lumberjack://" sink
// registration idiom.
func New(debug bool, logFile string) (Logger, error) {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	if logFile != "" {
		sinkName := "ratcam-lumberjack"
		if err := zap.RegisterSink(sinkName+":", func(u *url.URL) (zap.Sink, error) {
			return lumberjackSink{Logger: &lumberjack.Logger{
				Filename:   u.Path,
				MaxSize:    100,
				MaxBackups: 5,
				MaxAge:     28,
			}}, nil
		}); err != nil {
			// Sink scheme already registered (e.g. from an earlier call in
			// the same process, such as tests); ignore.
			_ = err
		}
		config.OutputPaths = append(config.OutputPaths, sinkName+"://"+logFile)
	}
	zl, err := config.Build()
	if err != nil {
		return nil, err
	}
	return &logger{zap: zl}, nil
}

// Nop returns a Logger that discards everything, for tests that don't care.
func Nop() Logger {
	return &logger{zap: zap.NewNop()}
}

type lumberjackSink struct {
	*lumberjack.Logger
}

func (lumberjackSink) Sync() error { return nil }

func (l *logger) With(attrs ...Attrib) Logger {
	return &logger{zap: l.zap.With(attrs...)}
}

func (l *logger) Info(msg string, attrs ...Attrib)  { l.zap.Info(msg, attrs...) }
func (l *logger) Error(msg string, attrs ...Attrib) { l.zap.Error(msg, attrs...) }
func (l *logger) Warn(msg string, attrs ...Attrib)  { l.zap.Warn(msg, attrs...) }
func (l *logger) Debug(msg string, attrs ...Attrib) { l.zap.Debug(msg, attrs...) }
func (l *logger) Fatal(msg string, attrs ...Attrib) { l.zap.Fatal(msg, attrs...) }
