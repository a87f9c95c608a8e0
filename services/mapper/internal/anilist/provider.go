// Package anilist fetches canonical media records from AniList.
package anilist

import (
	"context"

	"github.com/example/anime-mapper/services/mapper/internal/domain"
)

// Provider is the port for fetching canonical metadata.
type Provider interface {
	FetchCanonical(ctx context.Context, id int) (domain.CanonicalMedia, error)
}
