package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AttemptStatus is the status of one on-chain transaction try.
type AttemptStatus string

// Attempt status values.
const (
	AttemptPending   AttemptStatus = "PENDING"
	AttemptConfirmed AttemptStatus = "CONFIRMED"
	AttemptReplaced  AttemptStatus = "REPLACED"
	AttemptDropped   AttemptStatus = "DROPPED"
)

// SubmissionAttempt is one transaction try for a winning settlement. All
// attempts of a submission share one nonce; the lineage is append-only
// and attempts are referenced by index.
type SubmissionAttempt struct {
	Index       int
	Nonce       uint64
	GasPrice    *big.Int
	TxHash      common.Hash
	Status      AttemptStatus
	SubmittedAt time.Time
	// CancelNoop marks the terminal no-op transaction that spends the
	// nonce when the settlement is abandoned.
	CancelNoop bool
}

// SubmissionState is the submitter state machine's state.
type SubmissionState string

// Submission states. Building, Signed and Submitted are transient;
// Confirmed, Replaced and Abandoned are terminal.
const (
	SubmissionBuilding  SubmissionState = "BUILDING"
	SubmissionSigned    SubmissionState = "SIGNED"
	SubmissionSubmitted SubmissionState = "SUBMITTED"
	SubmissionConfirmed SubmissionState = "CONFIRMED"
	SubmissionReplaced  SubmissionState = "REPLACED"
	SubmissionAbandoned SubmissionState = "ABANDONED"
)

// Terminal reports whether the state machine has finished.
func (s SubmissionState) Terminal() bool {
	switch s {
	case SubmissionConfirmed, SubmissionReplaced, SubmissionAbandoned:
		return true
	}
	return false
}
