package logger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yungbote/wwfm-backend/internal/platform/ctxutil"
)

type Logger struct {
	SugaredLogger *zap.SugaredLogger
}

// New builds a logger for the given mode: "production"/"prod" emits JSON,
// "test" discards everything, anything else is the human readable dev config.
func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "test":
		return Nop(), nil
	case "prod", "production":
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(levelFromEnv(zapcore.InfoLevel))
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(levelFromEnv(zapcore.DebugLevel))
	}
	zapLogger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{SugaredLogger: zapLogger.Sugar()}, nil
}

// Nop returns a logger that drops every entry.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func levelFromEnv(def zapcore.Level) zapcore.Level {
	raw := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if raw == "" {
		return def
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(raw))); err != nil {
		return def
	}
	return lvl
}

func (l *Logger) Sync() {
	_ = l.SugaredLogger.Sync()
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Debugw(msg, defaultRedactor().apply(keysAndValues)...)
}
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Infow(msg, defaultRedactor().apply(keysAndValues)...)
}
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Warnw(msg, defaultRedactor().apply(keysAndValues)...)
}
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Errorw(msg, defaultRedactor().apply(keysAndValues)...)
}
func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Fatalw(msg, defaultRedactor().apply(keysAndValues)...)
}
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(defaultRedactor().apply(keysAndValues)...)}
}

// WithContext adds the trace_id/request_id attached to ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	fields := ctxutil.LogFields(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// redactor masks credentials and hashes rater identities. Cron secrets and
// bearer tokens land under the redacted keys; user_id is hashed so a rater's
// log lines still correlate.
type redactor struct {
	enabled bool
	salt    string
	redact  []string
	hash    []string
}

var (
	redactOnce sync.Once
	redactInst *redactor
)

func defaultRedactor() *redactor {
	redactOnce.Do(func() {
		redactInst = newRedactor(os.Getenv("LOG_REDACTION_ENABLED"), os.Getenv("LOG_HASH_SALT"))
	})
	return redactInst
}

func newRedactor(enabledRaw, salt string) *redactor {
	enabled := true
	switch strings.TrimSpace(strings.ToLower(enabledRaw)) {
	case "0", "false", "no", "off":
		enabled = false
	}
	return &redactor{
		enabled: enabled,
		salt:    strings.TrimSpace(salt),
		redact:  []string{"token", "authorization", "password", "secret", "cookie", "api_key", "dsn"},
		hash:    []string{"user_id"},
	}
}

func (r *redactor) apply(kv []interface{}) []interface{} {
	if len(kv) == 0 || !r.enabled {
		return kv
	}
	out := make([]interface{}, 0, len(kv))
	for i := 0; i < len(kv); i += 2 {
		if i == len(kv)-1 {
			out = append(out, kv[i])
			break
		}
		key := toString(kv[i])
		out = append(out, key, r.value(strings.ToLower(strings.TrimSpace(key)), kv[i+1]))
	}
	return out
}

func (r *redactor) value(key string, val interface{}) interface{} {
	if key == "" {
		return val
	}
	if containsAny(key, r.redact) {
		return "[REDACTED]"
	}
	if containsAny(key, r.hash) {
		return r.hashValue(val)
	}
	return val
}

func (r *redactor) hashValue(val interface{}) string {
	raw := toString(val)
	if raw == "" {
		return ""
	}
	h := sha256.New()
	_, _ = h.Write([]byte(r.salt))
	_, _ = h.Write([]byte(raw))
	return "hash:" + hex.EncodeToString(h.Sum(nil))[:12]
}

func containsAny(key string, frags []string) bool {
	for _, frag := range frags {
		if strings.Contains(key, frag) {
			return true
		}
	}
	return false
}

func toString(v interface{}) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
