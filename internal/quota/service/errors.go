package service

import (
	"errors"

	"pipscreen/internal/quota/models"
	dErrors "pipscreen/pkg/domain-errors"
	"pipscreen/pkg/platform/sentinel"
)

// QuotaExceeded reports an exhausted single-screening allowance. The usage
// snapshot travels in the error details so clients can render it.
func QuotaExceeded(info models.LimitInfo) error {
	return dErrors.New(dErrors.CodeQuotaExceeded,
		"You have reached your search limit for the "+info.Package+" package.").
		WithDetails(map[string]any{
			"limit_info": info,
			"limit":      info.Single.Limit,
			"used":       info.Single.Consumed,
			"remaining":  info.Single.Remaining,
		})
}

// InsufficientBatchQuota reports a batch that does not fit the remaining
// batch allowance. Batches are never partially admitted.
func InsufficientBatchQuota(required int, info models.LimitInfo) error {
	remaining := info.Batch.Remaining
	shortfall := 0
	if !remaining.IsUnlimited() {
		shortfall = max(0, required-remaining.Count())
	}
	return dErrors.New(dErrors.CodeInsufficientQuota,
		"Insufficient batch screening quota for this upload.").
		WithDetails(map[string]any{
			"limit_info": info,
			"required":   required,
			"remaining":  remaining,
			"shortfall":  shortfall,
		})
}

// translateStoreErr maps ledger store failures onto client-facing codes.
// Errors that already carry a quota or timeout code pass through untouched.
func translateStoreErr(err error, msg string) error {
	switch {
	case err == nil:
		return nil
	case dErrors.HasCode(err, dErrors.CodeQuotaExceeded),
		dErrors.HasCode(err, dErrors.CodeInsufficientQuota),
		dErrors.HasCode(err, dErrors.CodeTimeout):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "organisation not found")
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	}
}
