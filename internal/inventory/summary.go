package inventory

import (
	"github.com/mwantia/goblob/internal/refindex"
	"github.com/mwantia/goblob/pkg/blobstore"
	"github.com/mwantia/goblob/pkg/digest"
)

type Totals struct {
	Count int   `json:"count"`
	Bytes int64 `json:"bytes"`
}

func (t *Totals) add(size int64) {
	t.Count++
	t.Bytes += size
}

type Summary struct {
	Items    []Item                    `json:"items"`
	ByStatus map[Status]Totals         `json:"by_status"`
	ByKind   map[blobstore.Kind]Totals `json:"by_kind"`
	Total    Totals                    `json:"total"`
	Backup   BackupState               `json:"backup"`
}

// Snapshot is the inventory at one point in time, together with the
// reference snapshot it was derived from.
type Snapshot struct {
	items  map[digest.Digest]Item
	order  []digest.Digest
	backup BackupState
	refs   *refindex.Snapshot
}

// Items returns every item ordered by digest.
func (s *Snapshot) Items() []Item {
	items := make([]Item, 0, len(s.order))
	for _, d := range s.order {
		items = append(items, s.items[d])
	}
	return items
}

func (s *Snapshot) Item(d digest.Digest) (Item, bool) {
	item, ok := s.items[d]
	return item, ok
}

// Filter returns the items matching keep, ordered by digest.
func (s *Snapshot) Filter(keep func(Item) bool) []Item {
	var items []Item
	for _, d := range s.order {
		if item := s.items[d]; keep(item) {
			items = append(items, item)
		}
	}
	return items
}

func (s *Snapshot) Backup() BackupState {
	return s.backup
}

func (s *Snapshot) References() *refindex.Snapshot {
	return s.refs
}

func (s *Snapshot) Summarize() *Summary {
	summary := &Summary{
		Items:    s.Items(),
		ByStatus: make(map[Status]Totals),
		ByKind:   make(map[blobstore.Kind]Totals),
		Backup:   s.backup,
	}
	for _, item := range summary.Items {
		byStatus := summary.ByStatus[item.Status]
		byStatus.add(item.Size)
		summary.ByStatus[item.Status] = byStatus

		byKind := summary.ByKind[item.Kind]
		byKind.add(item.Size)
		summary.ByKind[item.Kind] = byKind

		summary.Total.add(item.Size)
	}
	return summary
}
