package fs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/beacon/pkg/core"
)

// Merge combines the named documents into output using strategy. Inputs that
// cannot be loaded are skipped with a warning and listed in the result.
// Input metadata is dropped; the output carries merge metadata instead.
func (s *Store) Merge(ctx context.Context, names []string, output string, strategy core.MergeStrategy) (core.MergeResult, error) {
	if !strategy.Valid() {
		return core.MergeResult{}, fmt.Errorf("%w: %s", core.ErrUnknownStrategy, strategy)
	}
	if err := validName(output); err != nil {
		return core.MergeResult{}, err
	}

	res := core.MergeResult{Strategy: strategy, Sources: []string{}}
	merged := core.Body{}
	for _, name := range names {
		body, err := s.Load(ctx, name, true)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				s.logger.Warn("merge input not found, skipping", "name", name)
			} else {
				s.logger.Warn("merge input unreadable, skipping", "name", name, "error", err)
			}
			res.Skipped = append(res.Skipped, name)
			continue
		}
		if err := strategy.Apply(merged, body.WithoutMeta()); err != nil {
			return core.MergeResult{}, err
		}
		res.Sources = append(res.Sources, name)
	}

	sources := make([]any, len(res.Sources))
	for i, n := range res.Sources {
		sources[i] = n
	}
	merged[core.MetadataKey] = map[string]any{
		"merged_from":    sources,
		"merge_strategy": strategy.String(),
		"merged_at":      s.now().Format(time.RFC3339Nano),
	}

	loc, err := s.Save(ctx, output, merged, "")
	if err != nil {
		return core.MergeResult{}, err
	}
	res.Location = loc
	res.Body, err = s.Load(ctx, output, true)
	if err != nil {
		return core.MergeResult{}, err
	}
	return res, nil
}
