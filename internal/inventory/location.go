package inventory

// Location says where a digest's content currently exists.
type Location string

const (
	LocationLocalOnly  Location = "local_only"
	LocationBackupOnly Location = "backup_only"
	LocationBoth       Location = "both"
	LocationNowhere    Location = "nowhere"
)

// Status is the lifecycle state of a digest derived from its location and
// reference count.
type Status string

const (
	StatusReferenced Status = "referenced"
	StatusOrphan     Status = "orphan"
	StatusMissing    Status = "missing"
	StatusBackupOnly Status = "backup_only"
)

// Verified is the tri-state result of the last integrity check.
type Verified string

const (
	VerifiedUnknown Verified = "unknown"
	VerifiedValid   Verified = "valid"
	VerifiedInvalid Verified = "invalid"
)

func DeriveLocation(local, backup bool) Location {
	switch {
	case local && backup:
		return LocationBoth
	case local:
		return LocationLocalOnly
	case backup:
		return LocationBackupOnly
	default:
		return LocationNowhere
	}
}

// DeriveStatus applies the status precedence. An unreferenced digest with
// no content is never enumerated; it is reported as missing so the
// function stays total.
func DeriveStatus(refCount int, location Location) Status {
	switch {
	case refCount > 0 && location != LocationNowhere:
		return StatusReferenced
	case refCount > 0:
		return StatusMissing
	case location == LocationBackupOnly:
		return StatusBackupOnly
	case location == LocationLocalOnly, location == LocationBoth:
		return StatusOrphan
	default:
		return StatusMissing
	}
}

func (l Location) HasLocal() bool {
	return l == LocationLocalOnly || l == LocationBoth
}

func (l Location) HasBackup() bool {
	return l == LocationBackupOnly || l == LocationBoth
}
