// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QRTrace Contributors

package errutil

import (
	"log/slog"

	"github.com/samber/oops"
)

// LogError reports err on logger with its oops code and context
// attached as structured attributes. It is the shared reporting path
// for errors qrtrace absorbs instead of returning, such as the log
// recorder's fallback and the admin API's 500 responses, so absorbed
// failures stay searchable by code. Plain errors log as a bare string.
func LogError(logger *slog.Logger, msg string, err error) {
	if oopsErr, ok := oops.AsOops(err); ok {
		attrs := []any{
			"error", oopsErr.Error(),
		}
		if code := oopsErr.Code(); code != nil {
			attrs = append(attrs, "code", code)
		}
		if ctx := oopsErr.Context(); len(ctx) > 0 {
			attrs = append(attrs, "context", ctx)
		}
		logger.Error(msg, attrs...)
	} else {
		logger.Error(msg, "error", err)
	}
}
