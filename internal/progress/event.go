// Package progress defines the event structures emitted by crawl sessions.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageSessionStart   Stage = "SESSION_START"
	StagePageDone       Stage = "PAGE_DONE"
	StageRetry          Stage = "RETRY"
	StageRateLimited    Stage = "RATE_LIMITED"
	StageSampledStop    Stage = "SAMPLED_STOP"
	StageSessionDone    Stage = "SESSION_DONE"
	StageSessionEmpty   Stage = "SESSION_EMPTY"
	StageSessionStopped Stage = "SESSION_STOPPED"
	StageSessionError   Stage = "SESSION_ERROR"
)

// Terminal reports whether the stage closes a session.
func (s Stage) Terminal() bool {
	switch s {
	case StageSessionDone, StageSessionEmpty, StageSessionStopped, StageSessionError:
		return true
	default:
		return false
	}
}

// Event captures one step of session progress.
type Event struct {
	// SessionID is the 16-byte UUID form of the session identifier.
	SessionID [16]byte
	TS        time.Time
	Stage     Stage
	// Source names the listing source.
	Source string
	// Page is set on page-scoped stages.
	Page int
	// Accepted counts items accepted (per page, or the session total on terminal stages).
	Accepted int
	// Scanned counts non-placeholder items evaluated.
	Scanned int
	// Dur is fetch latency on PAGE_DONE, wait time on RETRY and RATE_LIMITED,
	// and session runtime on terminal stages.
	Dur time.Duration
	// Note carries low-volume context such as the outcome or error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.SessionID == [16]byte{} {
		return errors.New("session id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageSessionStart, StageSessionDone, StageSessionEmpty, StageSessionStopped, StageSessionError:
	case StagePageDone, StageRetry, StageRateLimited, StageSampledStop:
		if e.Page <= 0 {
			return fmt.Errorf("%s requires a page", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// SessionUUID converts the binary session ID to uuid.UUID.
func (e Event) SessionUUID() uuid.UUID {
	return uuid.UUID(e.SessionID)
}

// SessionKey maps a session identifier to the Event form. Non-UUID
// identifiers are folded into a stable name-based UUID.
func SessionKey(id string) [16]byte {
	parsed, err := uuid.Parse(id)
	if err != nil {
		parsed = uuid.NewSHA1(uuid.NameSpaceURL, []byte("session:"+id))
	}
	return [16]byte(parsed)
}
