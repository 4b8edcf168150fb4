package pipeline

import (
	"context"
	"errors"

	"github.com/jar-analysis/jar-analysis-go/internal/decompiler"
	"github.com/jar-analysis/jar-analysis-go/internal/domain"
	"github.com/jar-analysis/jar-analysis-go/internal/inspector"
	"github.com/jar-analysis/jar-analysis-go/internal/mapping"
)

// ClassifyFailure maps a pipeline error to its failure type for retry
// decisions and dashboards.
func ClassifyFailure(err error) domain.FailureType {
	if err == nil {
		return domain.FailureTypeNone
	}

	var notArchive *inspector.NotAnArchiveError
	if errors.As(err, &notArchive) {
		return domain.FailureTypeNotAnArchive
	}

	var archiveRead *inspector.ArchiveReadError
	if errors.As(err, &archiveRead) {
		return domain.FailureTypeArchiveRead
	}

	var formatErr *mapping.FormatError
	if errors.As(err, &formatErr) {
		return domain.FailureTypeMappingFormat
	}

	var collision *mapping.CollisionError
	if errors.As(err, &collision) {
		return domain.FailureTypeMappingEntry
	}

	var entryErr *mapping.EntryError
	if errors.As(err, &entryErr) {
		return domain.FailureTypeMappingEntry
	}

	var allFailed *decompiler.AllBackendsFailedError
	if errors.As(err, &allFailed) {
		return domain.FailureTypeNoDecompiler
	}

	var analysisErr *AnalysisError
	if errors.As(err, &analysisErr) {
		return domain.FailureTypeAnalysisError
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.FailureTypeTimeout
	}

	return domain.FailureTypeUnknown
}
