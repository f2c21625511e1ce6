// Package conflict decides whether a write carrying client-observed version
// hints may replace the stored entry.
package conflict

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Policy names a conflict-resolution strategy.
type Policy string

const (
	// VersionControl rejects writes whose client version is older than the stored one.
	VersionControl Policy = "version-control"
	// LastWriteWins accepts every write and only warns about stale timestamps.
	LastWriteWins Policy = "last-write-wins"
)

// ParsePolicy converts a configuration string into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case VersionControl, LastWriteWins:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown conflict policy %q", s)
}

// Stamp is the version metadata of the stored entry.
type Stamp struct {
	Version   uint64
	Timestamp int64 // Unix milliseconds
}

// Hint carries the optional version metadata a client sent with a write.
type Hint struct {
	Version   *int64
	Timestamp *int64
}

// ConflictError reports a write rejected under VersionControl.
type ConflictError struct {
	Key           string
	ClientVersion int64
	StoredVersion uint64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("Conflict: Client version (%d) is older than server version (%d) for key %s",
		e.ClientVersion, e.StoredVersion, e.Key)
}

// Resolver applies a Policy.
type Resolver struct {
	policy Policy
	logger zerolog.Logger
}

// NewResolver creates a Resolver for the given policy.
func NewResolver(policy Policy, logger zerolog.Logger) *Resolver {
	return &Resolver{policy: policy, logger: logger}
}

// Policy returns the configured policy.
func (r *Resolver) Policy() Policy {
	return r.policy
}

// Resolve returns nil when the write may proceed and a *ConflictError when it
// must be rejected. Without a client version there is nothing to compare.
func (r *Resolver) Resolve(key string, stored Stamp, hint Hint) error {
	if hint.Version == nil {
		return nil
	}
	switch r.policy {
	case VersionControl:
		if *hint.Version < 0 || uint64(*hint.Version) < stored.Version {
			return &ConflictError{Key: key, ClientVersion: *hint.Version, StoredVersion: stored.Version}
		}
	case LastWriteWins:
		if hint.Timestamp != nil && *hint.Timestamp < stored.Timestamp {
			r.logger.Warn().
				Str("key", key).
				Int64("client_timestamp", *hint.Timestamp).
				Int64("stored_timestamp", stored.Timestamp).
				Msg("last-write-wins conflict, overwriting newer value")
		}
	}
	return nil
}

// Next returns the stamp an accepted write commits: the stored version plus
// one and the given wall-clock time. Client hints never leak into it.
func Next(stored Stamp, nowMillis int64) Stamp {
	return Stamp{Version: stored.Version + 1, Timestamp: nowMillis}
}
