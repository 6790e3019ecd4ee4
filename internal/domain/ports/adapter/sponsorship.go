package adapter

import "context"

// Sponsor is one entry of the sponsorship provider's active-sponsor feed.
// The ID matches the local subscription id for that source.
type Sponsor struct {
	ID string
}

// SponsorshipProvider exposes the list of currently active sponsors.
type SponsorshipProvider interface {
	Name() string
	GetActiveSponsors(ctx context.Context) ([]Sponsor, error)
}
