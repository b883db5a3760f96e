// Package logging builds the process logger and scrubs credentials from
// values before they hit a log line.
package logging

import (
	"regexp"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the root logger. Local environments get a human-readable
// console encoding at debug level; everything else logs JSON at info.
func New(env string) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	encoding := "json"

	if env == "local" {
		level = zapcore.DebugLevel
		encoding = "console"
	}

	cfg := zap.Config{
		Encoding:         encoding,
		Level:            zap.NewAtomicLevelAt(level),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:   "msg",
			LevelKey:     "level",
			EncodeLevel:  zapcore.LowercaseLevelEncoder,
			TimeKey:      "time",
			EncodeTime:   zapcore.RFC3339TimeEncoder,
			CallerKey:    "caller",
			EncodeCaller: zapcore.ShortCallerEncoder,
		},
	}

	return cfg.Build()
}

// RedactedText replaces sensitive data in sanitized output.
const RedactedText = "[REDACTED]"

var (
	// password=xxx, pwd=xxx, pass=xxx in DSN-style strings
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// api_key=xxx and bare provider keys (sk-...)
	apiKeyPattern      = regexp.MustCompile(`(?i)(api[_-]?key|apikey)=[A-Za-z0-9-_]{8,}`)
	providerKeyPattern = regexp.MustCompile(`\bsk-[A-Za-z0-9-_]{8,}`)

	// user:pass@host in connection URLs
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)
)

// SanitizeConnectionString removes credentials from a connection string so
// it can be logged at startup.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError scrubs an error message before logging. Provider and
// database errors can echo back the credentials that failed.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = providerKeyPattern.ReplaceAllString(sanitized, RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}
