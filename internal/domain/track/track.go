// Package track provides the Track domain entity.
package track

import "time"

// Track represents a playable audio item from the media server.
// Contains only information retrieved from the server's item API.
type Track struct {
	ID          string        // Server item ID
	Name        string        // Track name
	Artists     []string      // Artist names
	Album       string        // Album name
	AlbumID     string        // Album item ID
	IndexNumber int           // Track number within the album
	Duration    time.Duration // Track duration
	Container   string        // Source container format (mp3, flac, ...)
}

// PrimaryArtist returns the first artist name, or empty when unknown.
func (t *Track) PrimaryArtist() string {
	if len(t.Artists) == 0 {
		return ""
	}
	return t.Artists[0]
}

// Equal reports whether two tracks refer to the same server item.
func (t *Track) Equal(other *Track) bool {
	if other == nil {
		return false
	}
	return t.ID == other.ID
}
