// Copyright 2025 The axfor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package coherence

import (
	"context"

	"treeCache/pkg/log"
	"treeCache/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ReadThrough asks the parent for key after a local miss. Any failure is
// logged and reported as not found. A value returned by the parent is
// cached locally when FillOnRead is set, and the result is then whatever the
// store holds for key.
func (w *Worker) ReadThrough(ctx context.Context, key string) (string, bool) {
	ctx, span := w.tracer.Start(ctx, "read_through",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	if w.cfg.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.ReadTimeout)
		defer cancel()
	}

	var version uint64
	if w.store != nil {
		version = w.store.Version(key)
	}

	value, found, err := w.parent.Fetch(ctx, key)
	if err != nil {
		tracing.RecordError(span, err)
		w.metrics.RecordReadThrough("error")
		w.logger.Warn("read-through failed",
			log.KeyString(key),
			zap.String("outcome", string(w.classify(err))),
			zap.Error(err))
		return "", false
	}
	if !found {
		w.metrics.RecordReadThrough("not_found")
		w.logger.Debug("key not found upstream", log.KeyString(key))
		return "", false
	}

	w.metrics.RecordReadThrough("found")
	span.SetAttributes(attribute.Bool("cache.filled", w.cfg.FillOnRead))
	if w.cfg.FillOnRead && w.store != nil {
		// a local write or remove during the fetch wins over the parent's value
		return w.store.Fill(key, value, version)
	}
	return value, true
}
