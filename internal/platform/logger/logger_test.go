package logger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yungbote/wwfm-backend/internal/platform/ctxutil"
)

func TestRedactorMasksSecretsAndHashesRaters(t *testing.T) {
	r := newRedactor("", "salt")
	userID := uuid.MustParse("6f1c2a3e-1111-4c4c-8888-123456789abc")

	out := r.apply([]interface{}{"cron_secret", "s3cret", "Authorization", "Bearer x", "user_id", userID, "goal_id", "g", "dangling"})

	assert.Equal(t, "[REDACTED]", out[1])
	assert.Equal(t, "[REDACTED]", out[3])
	hashed, ok := out[5].(string)
	assert.True(t, ok)
	assert.Regexp(t, `^hash:[0-9a-f]{12}$`, hashed)
	assert.Equal(t, hashed, r.hashValue(userID.String()), "uuid and its string hash alike")
	assert.Equal(t, "g", out[7])
	assert.Equal(t, "dangling", out[8])
}

func TestRedactorDisabled(t *testing.T) {
	r := newRedactor("off", "")
	kv := []interface{}{"token", "abc"}
	assert.Equal(t, kv, r.apply(kv))
}

func TestWithContextAddsTraceFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	ctx := ctxutil.WithTraceData(context.Background(), &ctxutil.TraceData{TraceID: "t-1", RequestID: "r-1"})
	l.WithContext(ctx).Info("hello")
	l.WithContext(context.Background()).Info("plain")

	entries := logs.All()
	assert.Len(t, entries, 2)
	assert.Equal(t, "t-1", entries[0].ContextMap()["trace_id"])
	assert.Equal(t, "r-1", entries[0].ContextMap()["request_id"])
	assert.NotContains(t, entries[1].ContextMap(), "trace_id")
}
