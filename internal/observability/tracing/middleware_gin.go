package tracing

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const httpTracerName = "github.com/smallbiznis/dunning/internal/server"

// GinMiddleware opens a server span per ops request. Route params that scope
// a reminder run (job, org) are copied onto the span so a manual trigger can
// be matched with the scheduler spans it starts.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer(httpTracerName)
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+routeOf(c), trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		attrs := []attribute.KeyValue{
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", routeOf(c)),
			attribute.Int("http.status_code", c.Writer.Status()),
		}
		if id := c.GetString("request_id"); id != "" {
			attrs = append(attrs, attribute.String("request_id", id))
		}
		if job := c.Param("job"); job != "" {
			attrs = append(attrs, attribute.String("job", job))
		}
		if org := c.Param("org_id"); org != "" {
			attrs = append(attrs, attribute.String("org_id", org))
		} else if org := c.Query("company"); org != "" {
			attrs = append(attrs, attribute.String("org_id", org))
		}
		span.SetAttributes(SafeAttributes(attrs...)...)

		if c.Writer.Status() < http.StatusInternalServerError {
			return
		}
		if last := c.Errors.Last(); last != nil {
			span.RecordError(SafeError(last.Err))
		}
		span.SetStatus(codes.Error, http.StatusText(c.Writer.Status()))
	}
}

func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}
