package scan

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// DirectSummary reports a RunDirect pass.
type DirectSummary struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// RunDirect processes ids in order without the queue, the lease or the
// progress counters. onProgress, when set, is called after every `every`
// items and once at the end. A cancelled ctx stops the pass early and is
// returned as the error.
func (j *Job) RunDirect(ctx context.Context, ids []int64, every int, onProgress func(DirectSummary)) (DirectSummary, error) {
	sum := DirectSummary{Total: len(ids)}
	if len(ids) == 0 {
		return sum, ErrInvalidInput
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if err := j.processItem(ctx, id); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return sum, ctx.Err()
			}
			sum.Failed++
			log.Warn().Err(err).Int64("post_id", id).Msg("Direct scan item failed, skipping")
		}
		sum.Processed++
		if onProgress != nil && every > 0 && sum.Processed%every == 0 && sum.Processed < sum.Total {
			onProgress(sum)
		}
	}
	if onProgress != nil {
		onProgress(sum)
	}
	return sum, nil
}
