package playersync

import (
	"context"

	"github.com/metarr/metarr/internal/providers"
)

// PlayerItem is the player's view of one library entry.
type PlayerItem struct {
	PlayerID int64
	Title    string
	Year     int
	Path     string
	ImdbID   string
	TmdbID   int64
}

// FindQuery locates an item inside the player's database. ExternalIDs take
// precedence; Path plus Title/Year is the fallback.
type FindQuery struct {
	IDs   providers.ExternalIDs
	Path  string
	Title string
	Year  int
}

// ExternalPlayer is the capability surface of one player instance. Scan and
// Refresh are asynchronous on the player side; IsScanning is the poll target
// for completion.
type ExternalPlayer interface {
	// Scan triggers a scan limited to directory; empty means full library.
	Scan(ctx context.Context, directory string) error
	// Refresh re-reads metadata for one player-internal id.
	Refresh(ctx context.Context, playerID int64) error
	// Remove drops one player-internal id from the player's library.
	Remove(ctx context.Context, playerID int64) error
	// Find resolves a query to an item, or a not-found error.
	Find(ctx context.Context, q FindQuery) (*PlayerItem, error)
	// IsScanning reports whether a library scan is in flight.
	IsScanning(ctx context.Context) (bool, error)
	// HasActivePlayback reports whether anything is playing right now.
	HasActivePlayback(ctx context.Context) (bool, error)
}

// PlayerDialer opens a connection to one configured instance.
type PlayerDialer func(baseURL, token string) ExternalPlayer
