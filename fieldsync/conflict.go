package fieldsync

import "time"

// Strategy is the policy applied when the remote API reports a version
// conflict for a queued mutation.
type Strategy string

const (
	// StrategyServerWins takes the server's data. This is the default.
	StrategyServerWins Strategy = "server-wins"

	// StrategyClientWins takes the local data.
	StrategyClientWins Strategy = "client-wins"

	// StrategyMerge starts from the server's data and overwrites with local
	// fields only when the local mutation is newer. Best-effort
	// last-writer-per-field, not a CRDT: concurrent edits to the same field
	// still favor whichever side is newer by wall clock.
	StrategyMerge Strategy = "merge"

	// StrategyManual defers to a human. The queue item stays in place and is
	// not retried automatically.
	StrategyManual Strategy = "manual"
)

// ConflictDescriptor is the ephemeral comparison of local vs. server entity
// state, produced from a 409 response and consumed immediately by Resolve.
// It is never persisted.
type ConflictDescriptor struct {
	LocalData       map[string]any
	ServerData      map[string]any
	LocalTimestamp  time.Time
	ServerTimestamp time.Time
}

// Resolution is the outcome of resolving a conflict. Data is present iff
// Resolved is true.
type Resolution struct {
	Resolved bool
	Data     map[string]any
	Strategy Strategy
}

// DetectConflict reports whether somebody else changed the entity after this
// client's view was taken: true iff the server's last-modified timestamp is
// strictly newer than the timestamp the local mutation was based on.
//
// When the server data carries no parseable updatedAt field, no conflict is
// reported. That is a known precision limitation of top-level timestamp
// comparison, not a bug to fix here.
func DetectConflict(local, server map[string]any, localTimestamp time.Time) bool {
	serverTS, ok := serverTimestamp(server)
	if !ok {
		return false
	}
	return serverTS.After(localTimestamp)
}

// Resolve applies a strategy to a conflict descriptor. Unknown strategies
// fall back to server-wins.
func Resolve(desc ConflictDescriptor, strategy Strategy) Resolution {
	switch strategy {
	case StrategyClientWins:
		return Resolution{Resolved: true, Data: clonePayload(desc.LocalData), Strategy: StrategyClientWins}

	case StrategyMerge:
		merged := clonePayload(desc.ServerData)
		if merged == nil {
			merged = make(map[string]any)
		}
		if desc.LocalTimestamp.After(desc.ServerTimestamp) {
			for field, value := range desc.LocalData {
				merged[field] = value
			}
		}
		return Resolution{Resolved: true, Data: merged, Strategy: StrategyMerge}

	case StrategyManual:
		return Resolution{Resolved: false, Strategy: StrategyManual}

	case StrategyServerWins:
		return Resolution{Resolved: true, Data: clonePayload(desc.ServerData), Strategy: StrategyServerWins}

	default:
		return Resolve(desc, StrategyServerWins)
	}
}

// serverTimestamp extracts the server's last-modified timestamp from a
// payload. The remote API sends RFC 3339 strings; unix milliseconds and
// already-decoded time.Time values are accepted for store round-trips.
func serverTimestamp(data map[string]any) (time.Time, bool) {
	raw, ok := data["updatedAt"]
	if !ok {
		return time.Time{}, false
	}

	switch v := raw.(type) {
	case time.Time:
		return v, true
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return ts, true
		}
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			return ts, true
		}
		return time.Time{}, false
	case float64:
		return time.UnixMilli(int64(v)), true
	case int64:
		return time.UnixMilli(v), true
	default:
		return time.Time{}, false
	}
}

// clonePayload deep-copies a payload map so queue items and resolutions never
// alias caller-owned data.
func clonePayload(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		switch typed := v.(type) {
		case map[string]any:
			dst[k] = clonePayload(typed)
		case []any:
			list := make([]any, len(typed))
			for i, elem := range typed {
				if m, ok := elem.(map[string]any); ok {
					list[i] = clonePayload(m)
				} else {
					list[i] = elem
				}
			}
			dst[k] = list
		default:
			dst[k] = v
		}
	}
	return dst
}
