package platforms

import (
	"context"
	"fmt"
	"sync"

	"crosspost/internal/content"
)

// StaticDirectory is a fixed in-memory Directory, fed from configuration.
// Production embedders provide their own Directory backed by whatever owns
// account linking.
type StaticDirectory struct {
	mu sync.RWMutex
	m  map[content.DestinationID]content.Destination
}

func NewStaticDirectory(dests []content.Destination) *StaticDirectory {
	d := &StaticDirectory{m: make(map[content.DestinationID]content.Destination, len(dests))}
	for _, dest := range dests {
		d.m[dest.ID] = dest
	}
	return d
}

func (d *StaticDirectory) Destination(_ context.Context, id content.DestinationID) (content.Destination, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dest, ok := d.m[id]
	if !ok {
		return content.Destination{}, fmt.Errorf("unknown destination %q", id)
	}
	return dest, nil
}

// Replace swaps the directory contents (config hot reload).
func (d *StaticDirectory) Replace(dests []content.Destination) {
	m := make(map[content.DestinationID]content.Destination, len(dests))
	for _, dest := range dests {
		m[dest.ID] = dest
	}
	d.mu.Lock()
	d.m = m
	d.mu.Unlock()
}
