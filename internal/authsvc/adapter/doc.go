// Package adapter contains implementations of interfaces defined in app.
// DynamoDB stores, the Redis rate limiter and the delivery providers live here.
package adapter

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("authsvc/adapter")
