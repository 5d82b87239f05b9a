package repository

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("github.com/snaplink/snaplink/internal/repository")
