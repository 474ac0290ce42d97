package models

import (
	"fmt"
	"strings"
)

// validTransitions maps from-state to allowed to-states.
// Reset to idle is allowed from every state and is handled in ValidateTransition.
var validTransitions = map[JobStatus]map[JobStatus]bool{
	StatusIdle: {
		StatusUploading: true, // Idle → Uploading (submit accepted)
		StatusChecking:  true, // Idle → Checking (job id already in the address)
	},
	StatusUploading: {
		StatusProcessing: true, // Uploading → Processing (transfer reached 100%)
		StatusFail:       true, // Uploading → Fail (transport error, no job id)
	},
	StatusProcessing: {
		StatusSuccess: true, // Processing → Success (COMPLETED with download url)
		StatusFail:    true, // Processing → Fail (FAILED, poll error or no job id)
	},
	StatusChecking: {
		StatusSuccess: true,
		StatusFail:    true,
	},
	StatusSuccess: {
		StatusDownloading: true, // Success → Downloading (artifact streamed to disk)
	},
	StatusDownloading: {
		StatusSuccess: true,
		StatusFail:    true,
	},
	StatusFail: {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to JobStatus) error {
	allowedStates, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}

	if to == StatusIdle {
		return nil
	}

	if !allowedStates[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}

	return nil
}

// IsTerminalState returns true if no further polling happens in this state
func IsTerminalState(state JobStatus) bool {
	return state == StatusSuccess || state == StatusFail
}

// IsActiveState returns true while a job is moving and a new submission must wait
func IsActiveState(state JobStatus) bool {
	switch state {
	case StatusUploading, StatusProcessing, StatusChecking, StatusDownloading:
		return true
	default:
		return false
	}
}

// IsPollingState returns true for the states in which the poller runs
func IsPollingState(state JobStatus) bool {
	return state == StatusProcessing || state == StatusChecking
}

// Normalize tolerates lower-case or padded status values from the service
func (status RemoteStatus) Normalize() RemoteStatus {
	return RemoteStatus(strings.ToUpper(strings.TrimSpace(string(status))))
}
