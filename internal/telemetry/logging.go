/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package telemetry

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// SetLogger routes OpenTelemetry's internal logs and export errors to
// logger. Without it they go to the standard library logger.
func SetLogger(logger *zap.Logger) logr.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := zapr.NewLogger(logger.Named("otel"))
	otel.SetLogger(l)
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		l.Error(err, "opentelemetry error")
	}))
	return l
}
