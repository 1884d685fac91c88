//go:build tinygo

package sx1262

import (
	"machine"
)

func init() {
	globalLogger = &serialLogger{}
}

// serialLogger is the default logger on TinyGo targets, writing the radio
// status lines to the USB serial console (the only output surface a headless
// board like the Heltec V3 has). It uses machine.Serial directly to avoid the
// memory overhead of the fmt package.
type serialLogger struct{}

func (l *serialLogger) log(level, msg string) {
	machine.Serial.Write([]byte(level))
	machine.Serial.Write([]byte(msg))
	machine.Serial.Write([]byte("\r\n"))
}

func (l *serialLogger) Debug(msg string) { l.log("[DEBUG] ", msg) }
func (l *serialLogger) Info(msg string)  { l.log("[INFO]  ", msg) }
func (l *serialLogger) Warn(msg string)  { l.log("[WARN]  ", msg) }
func (l *serialLogger) Error(msg string) { l.log("[ERROR] ", msg) }
