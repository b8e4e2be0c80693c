package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for the storage and optimizer contracts.
var (
	// ErrDuplicateTrial is returned when creating a trial whose id exists.
	ErrDuplicateTrial = errors.New("trial already exists")

	// ErrTrialNotFound is returned when a trial id is absent from the ledger.
	ErrTrialNotFound = errors.New("trial not found")

	// ErrNoFinishedTrials is returned by best-trial queries over an empty
	// finished set.
	ErrNoFinishedTrials = errors.New("no finished trials")

	// ErrNoMoreParameters is reported by strategies whose search space is
	// exhausted (e.g. grid enumeration). Non-fatal: it only throttles
	// admission.
	ErrNoMoreParameters = errors.New("no more parameters to generate")
)

// CorruptionError marks a trial record that should exist but is missing or
// unreadable. Always fatal: the run aborts rather than silently adjusting
// aggregate counts.
type CorruptionError struct {
	TrialID int
	Err     error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("storage corruption at trial %d: %v", e.TrialID, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// ResumeError marks an invalid resume checkpoint. Fatal at startup, before
// any new trial is admitted.
type ResumeError struct {
	Checkpoint int
	Reason     string
}

func (e *ResumeError) Error() string {
	return fmt.Sprintf("cannot resume from trial %d: %s", e.Checkpoint, e.Reason)
}
