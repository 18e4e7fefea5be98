package leaderboard

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrInvalidMissionID    = errors.New("invalid mission id")
	ErrSnapshotUnavailable = errors.New("leaderboard snapshot unavailable")
	ErrStreamUnavailable   = errors.New("leaderboard stream unavailable")
)

// objectIDLength is the hex length of a 12-byte document id.
const objectIDLength = 24

// ValidateMissionID accepts UUIDs and 24-character hex document ids.
func ValidateMissionID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidMissionID)
	}
	if _, err := uuid.Parse(id); err == nil {
		return nil
	}
	if len(id) == objectIDLength {
		if _, err := hex.DecodeString(id); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidMissionID, id)
}
