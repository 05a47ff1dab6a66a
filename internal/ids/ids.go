package ids

import "github.com/segmentio/ksuid"

// New returns a time-sortable identifier for new rows.
func New() string {
	return ksuid.New().String()
}
