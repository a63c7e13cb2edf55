package domain

import (
	"context"
	"log/slog"
)

// profileBatchSize is the maximum number of actors the getProfiles endpoint
// accepts in a single call.
const profileBatchSize = 25

// ProfileFetcher fetches account profiles in provider-sized batches.
type ProfileFetcher struct {
	api    ProfileAPI
	logger *slog.Logger
}

// NewProfileFetcher creates a ProfileFetcher backed by the given API.
func NewProfileFetcher(api ProfileAPI, logger *slog.Logger) *ProfileFetcher {
	return &ProfileFetcher{
		api:    api,
		logger: logger,
	}
}

// FetchProfiles fetches profiles for the given DIDs, one API call per batch
// of at most profileBatchSize actors. A failed batch is logged and skipped;
// its accounts simply contribute no profiles. The returned error is non-nil
// only when the context is cancelled. Empty input makes no calls.
func (f *ProfileFetcher) FetchProfiles(ctx context.Context, dids []string) ([]Profile, error) {
	if len(dids) == 0 {
		return nil, nil
	}

	var profiles []Profile
	for start := 0; start < len(dids); start += profileBatchSize {
		if err := ctx.Err(); err != nil {
			return profiles, err
		}

		end := start + profileBatchSize
		if end > len(dids) {
			end = len(dids)
		}
		batch := dids[start:end]

		fetched, err := f.api.GetProfiles(ctx, batch)
		if err != nil {
			f.logger.Error("failed to fetch profile batch, skipping",
				"batch_size", len(batch),
				"error", err,
			)
			continue
		}
		profiles = append(profiles, fetched...)
	}

	return profiles, nil
}
