package rounds

import (
	"fmt"

	"earnhub/internal/apperr"
)

var (
	ErrUnknownVariant    = fmt.Errorf("%w: rounds: unknown variant", apperr.ErrValidation)
	ErrInvalidTransition = fmt.Errorf("%w: rounds: transition not allowed", apperr.ErrValidation)
	ErrInvalidTxID       = fmt.Errorf("%w: rounds: transaction id must be 64 hex digits", apperr.ErrValidation)
	ErrInvalidAddress    = fmt.Errorf("%w: rounds: address is not a valid EVM address", apperr.ErrValidation)
	ErrAmountTooLow      = fmt.Errorf("%w: rounds: amount below entry amount", apperr.ErrValidation)
	ErrNotParticipant    = fmt.Errorf("%w: rounds: user is not an active participant", apperr.ErrValidation)
	ErrReasonRequired    = fmt.Errorf("%w: rounds: reason is required", apperr.ErrValidation)
	ErrBanTarget         = fmt.Errorf("%w: rounds: ban needs a user or an address", apperr.ErrValidation)

	ErrBanned      = fmt.Errorf("%w: rounds: banned from this draw", apperr.ErrForbidden)
	ErrUserBlocked = fmt.Errorf("%w: rounds: user is blocked", apperr.ErrForbidden)

	ErrRoundNotOpen     = fmt.Errorf("%w: rounds: round is not open", apperr.ErrConflict)
	ErrRoundClosed      = fmt.Errorf("%w: rounds: round is closed", apperr.ErrConflict)
	ErrRoundNotClosed   = fmt.Errorf("%w: rounds: round is not closed", apperr.ErrConflict)
	ErrWinnerAlreadySet = fmt.Errorf("%w: rounds: winner already set", apperr.ErrConflict)
	ErrNoWinner         = fmt.Errorf("%w: rounds: round has no winner", apperr.ErrConflict)
	ErrAlreadyPaid      = fmt.Errorf("%w: rounds: winner already paid", apperr.ErrConflict)
	ErrAlreadyJoined    = fmt.Errorf("%w: rounds: already joined this round", apperr.ErrConflict)
	ErrTxIDUsed         = fmt.Errorf("%w: rounds: transaction id already submitted", apperr.ErrConflict)
	ErrDepositReviewed  = fmt.Errorf("%w: rounds: deposit already reviewed", apperr.ErrConflict)
	ErrNotActive        = fmt.Errorf("%w: rounds: participant is not active", apperr.ErrConflict)

	ErrRoundNotFound       = fmt.Errorf("%w: rounds: round not found", apperr.ErrNotFound)
	ErrDepositNotFound     = fmt.Errorf("%w: rounds: deposit not found", apperr.ErrNotFound)
	ErrParticipantNotFound = fmt.Errorf("%w: rounds: participant not found", apperr.ErrNotFound)
	ErrBanNotFound         = fmt.Errorf("%w: rounds: ban not found", apperr.ErrNotFound)
)
