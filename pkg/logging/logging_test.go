package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("debug", "json", &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger.WithField("ticket", "abc").Info("hello")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "abc", line["ticket"])

	logger, err = New("", "TEXT", nil)
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)

	_, err = New("loud", "json", nil)
	assert.Error(t, err)
	_, err = New("info", "xml", nil)
	assert.Error(t, err)
}

func TestGormLogger_Trace(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.TraceLevel)
	l := NewGormLogger(base)
	fc := func() (string, int64) { return "SELECT 1", 1 }
	ctx := context.Background()

	l.Trace(ctx, time.Now(), fc, errors.New("boom"))
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "SELECT 1", hook.LastEntry().Data["sql"])

	hook.Reset()
	l.Trace(ctx, time.Now(), fc, gorm.ErrRecordNotFound)
	assert.Empty(t, hook.Entries, "record not found is not a failure")

	l.Trace(ctx, time.Now().Add(-time.Second), fc, nil)
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	hook.Reset()
	l.Trace(ctx, time.Now(), fc, nil)
	assert.Empty(t, hook.Entries, "fast queries are only logged at info mode")

	l.LogMode(gormlogger.Info).Trace(ctx, time.Now(), fc, nil)
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.TraceLevel, hook.LastEntry().Level)

	hook.Reset()
	l.LogMode(gormlogger.Silent).Trace(ctx, time.Now(), fc, errors.New("boom"))
	assert.Empty(t, hook.Entries)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, hook := test.NewNullLogger()

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(CorrelationIDKey, "cid-1"); c.Next() })
	r.Use(Middleware(logger))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	r.GET("/fail", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for path, level := range map[string]logrus.Level{
		"/ok":   logrus.InfoLevel,
		"/bad":  logrus.WarnLevel,
		"/fail": logrus.ErrorLevel,
	} {
		hook.Reset()
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
		require.Len(t, hook.Entries, 1, path)
		assert.Equal(t, level, hook.LastEntry().Level, path)
		assert.Equal(t, "cid-1", hook.LastEntry().Data[CorrelationIDKey])
		assert.Equal(t, path, hook.LastEntry().Data["path"])
	}
}
