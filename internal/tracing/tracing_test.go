package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useMockTracer(t *testing.T) *mocktracer.MockTracer {
	t.Helper()
	prev := opentracing.GlobalTracer()
	tracer := mocktracer.New()
	opentracing.SetGlobalTracer(tracer)
	t.Cleanup(func() { opentracing.SetGlobalTracer(prev) })
	return tracer
}

func TestInitTracerDisabled(t *testing.T) {
	tracer, closer, err := InitTracer(false, "clipper", "")
	require.NoError(t, err)
	assert.IsType(t, opentracing.NoopTracer{}, tracer)
	assert.NoError(t, closer.Close())
}

func TestSpanHelpers(t *testing.T) {
	tracer := useMockTracer(t)

	span, ctx := StartSpan(context.Background(), "resolve")
	require.NotNil(t, ctx)
	SetTag(span, "source_url", "https://example.com/v")
	LogError(span, errors.New("provider failed"))
	FinishSpan(span)

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "resolve", spans[0].OperationName)
	assert.Equal(t, true, spans[0].Tag("error"))
	assert.Equal(t, "https://example.com/v", spans[0].Tag("source_url"))
}

func TestNilSpanHelpersAreSafe(t *testing.T) {
	FinishSpan(nil)
	LogError(nil, errors.New("ignored"))
	SetTag(nil, "k", "v")
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer := useMockTracer(t)

	router := gin.New()
	router.Use(Middleware())
	router.GET("/health", func(c *gin.Context) {
		assert.NotNil(t, opentracing.SpanFromContext(c.Request.Context()))
		c.Status(http.StatusInternalServerError)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /health", spans[0].OperationName)
	assert.Equal(t, uint16(http.StatusInternalServerError), spans[0].Tag("http.status_code"))
	assert.Equal(t, true, spans[0].Tag("error"))
}
