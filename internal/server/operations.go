package server

import (
	"context"
	"errors"

	"github.com/teemow/mcpmerge/internal/authstatus"
	"github.com/teemow/mcpmerge/internal/extension"
	"github.com/teemow/mcpmerge/internal/instrumentation"
	"github.com/teemow/mcpmerge/internal/logging"
	"github.com/teemow/mcpmerge/internal/mcpconfig"
)

// Merge merges incoming into existing and records the outcome for source.
func (sc *ServerContext) Merge(ctx context.Context, source string, existing, incoming *mcpconfig.ServerConfigSet, renames mcpconfig.RenameMap) (*mcpconfig.ServerConfigSet, *mcpconfig.MergeReport, error) {
	ctx, span := instrumentation.StartSpan(ctx, "config.merge",
		instrumentation.SpanAttrs{Operation: "merge"})
	defer span.End()

	merged, report, err := mcpconfig.Merge(existing, incoming, renames)
	shape := instrumentation.StatusUnknown
	if existing != nil {
		shape = existing.Shape.String()
	}
	if err != nil {
		sc.metrics.RecordConfigMerge(ctx, source, shape, instrumentation.StatusError, 0)
		instrumentation.FinishSpan(span, err)
		return nil, nil, err
	}

	sc.metrics.RecordConfigMerge(ctx, source, shape, instrumentation.StatusSuccess, report.Total)
	span.SetAttributes(instrumentation.SpanAttrs{ServerCount: report.Total}.KeyValues()...)
	instrumentation.FinishSpan(span, nil)
	sc.logger.Info("configuration merged",
		logging.Operation("merge"),
		logging.Status(instrumentation.StatusSuccess),
		"source", source,
		"added", len(report.Added),
		"replaced", len(report.Replaced),
		"total", report.Total)
	return merged, report, nil
}

// ListExtensions returns the installed extension manifests.
func (sc *ServerContext) ListExtensions(ctx context.Context) ([]*extension.Manifest, error) {
	if sc.catalog == nil {
		return nil, ErrNoCatalog
	}
	return sc.catalog.List(ctx)
}

// ConvertExtensions converts the selected extensions, or all of them when ids
// is empty. Unknown ids are reported in the result's errors.
func (sc *ServerContext) ConvertExtensions(ctx context.Context, ids []string, share bool) (*extension.ConvertAllResult, error) {
	if sc.catalog == nil {
		return nil, ErrNoCatalog
	}
	manifests, missing, err := sc.catalog.Select(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := extension.ConvertAll(manifests, extension.ConvertOptions{
		ShareCredentials: share,
		CredentialsDir:   sc.Store().Root(),
	})
	for range result.Conversions {
		sc.metrics.RecordExtensionConversion(ctx, instrumentation.ConversionSuccess)
	}
	for _, cause := range result.Causes {
		if errors.Is(cause, extension.ErrMissingServerSpec) {
			sc.metrics.RecordExtensionConversion(ctx, instrumentation.ConversionMissingServerSpec)
		} else {
			sc.metrics.RecordExtensionConversion(ctx, instrumentation.ConversionError)
		}
	}
	for _, id := range missing {
		if result.Errors == nil {
			result.Errors = make(map[string]string)
		}
		result.Errors[id] = "extension not found"
	}
	return result, nil
}

// AuthStatus scans set for Google servers and their token state.
func (sc *ServerContext) AuthStatus(ctx context.Context, set *mcpconfig.ServerConfigSet) (map[string]authstatus.Entry, error) {
	return sc.scanner.Scan(ctx, set)
}
