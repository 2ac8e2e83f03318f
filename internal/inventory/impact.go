package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/mwantia/goblob/pkg/blobstore"
	"github.com/mwantia/goblob/pkg/digest"
)

// Target names the copies a deletion would remove.
type Target string

const (
	TargetLocal  Target = "local"
	TargetBackup Target = "backup"
	TargetBoth   Target = "both"
)

// ParseTarget defaults to both when s is empty.
func ParseTarget(s string) (Target, error) {
	switch Target(strings.ToLower(strings.TrimSpace(s))) {
	case "", TargetBoth:
		return TargetBoth, nil
	case TargetLocal:
		return TargetLocal, nil
	case TargetBackup:
		return TargetBackup, nil
	default:
		return "", fmt.Errorf("unknown deletion target '%s'", s)
	}
}

// Removes reports whether deleting target removes the copy in location.
func (t Target) Removes(location blobstore.Location) bool {
	return t == TargetBoth || string(t) == string(location)
}

type Impact struct {
	Digest       digest.Digest `json:"digest"`
	Target       Target        `json:"target"`
	Status       Status        `json:"status"`
	Location     Location      `json:"location"`
	Size         int64         `json:"size"`
	Packs        []string      `json:"packs"`
	RefCount     int           `json:"ref_count"`
	SafeToDelete bool          `json:"safe_to_delete"`
	Warning      string        `json:"warning,omitempty"`
}

// Analyzer answers what breaks when a digest is deleted from a target.
// It only informs; enforcement belongs to the caller.
type Analyzer struct {
	inventory *Service
}

func NewAnalyzer(inventory *Service) *Analyzer {
	return &Analyzer{inventory: inventory}
}

func (a *Analyzer) Analyze(ctx context.Context, d digest.Digest, target Target) (*Impact, error) {
	if target == "" {
		target = TargetBoth
	}

	item, err := a.inventory.Item(ctx, d)
	if err != nil {
		return nil, err
	}
	return Assess(item, target), nil
}

// Assess derives the impact of deleting target from an already computed
// item. A deletion is safe when nothing references the digest or when a
// copy survives outside target.
func Assess(item Item, target Target) *Impact {
	impact := &Impact{
		Digest:   item.Digest,
		Target:   target,
		Status:   item.Status,
		Location: item.Location,
		Size:     item.Size,
		Packs:    item.Packs,
		RefCount: item.RefCount,
	}

	hasLocal := item.Location.HasLocal()
	hasBackup := item.Location.HasBackup()

	removesSomething := (hasLocal && target.Removes(blobstore.LocationLocal)) ||
		(hasBackup && target.Removes(blobstore.LocationBackup))
	survives := (hasLocal && !target.Removes(blobstore.LocationLocal)) ||
		(hasBackup && !target.Removes(blobstore.LocationBackup))

	impact.SafeToDelete = item.RefCount == 0 || survives

	switch {
	case !removesSomething:
		impact.Warning = fmt.Sprintf("no copy of %s exists at %s", item.Digest.Short(), target)
	case !impact.SafeToDelete:
		impact.Warning = fmt.Sprintf("removes the last copy of %s, still referenced by %s",
			item.Digest.Short(), strings.Join(item.Packs, ", "))
	}

	return impact
}
