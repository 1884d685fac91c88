//go:build !tinygo

package sx1262

import (
	"log"
)

func init() {
	globalLogger = &stdLogger{}
}

// stdLogger is the default logger on hosted platforms (e.g. a Raspberry Pi
// driving the radio over spidev), backed by the standard library log package.
// Applications wanting structured output replace it via SetLogger.
type stdLogger struct{}

func (l *stdLogger) Debug(msg string) {
	log.Print("[DEBUG] " + msg)
}

func (l *stdLogger) Info(msg string) {
	log.Print("[INFO]  " + msg)
}

func (l *stdLogger) Warn(msg string) {
	log.Print("[WARN]  " + msg)
}

func (l *stdLogger) Error(msg string) {
	log.Print("[ERROR] " + msg)
}
