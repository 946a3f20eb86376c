package tracing

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSensitiveAndEmpty(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/payments/webhook/"),
		attribute.String("email", "a@example.com"),
		attribute.String("enduser.id", ""),
		attribute.Int("http.status_code", 200),
	)
	keys := make([]string, 0, len(attrs))
	for _, attr := range attrs {
		keys = append(keys, string(attr.Key))
	}
	assert.ElementsMatch(t, []string{"http.route", "http.status_code"}, keys)
}

func TestSafeErrorTruncates(t *testing.T) {
	assert.Nil(t, SafeError(nil))

	long := errors.New(strings.Repeat("x", 400))
	got := SafeError(long)
	assert.Len(t, got.Error(), maxErrorLength)
}
