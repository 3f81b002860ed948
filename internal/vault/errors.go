package vault

import "errors"

// Rejection reasons. Every failed operation maps to exactly one of these
// so callers (HTTP handlers, NATS consumers, tests) can branch on the cause.
var (
	// ErrWrongPhase rejects an operation not permitted in the current phase.
	ErrWrongPhase = errors.New("operation not allowed in current phase")

	// ErrUnsupportedAsset rejects a collateral asset the vault does not hold.
	ErrUnsupportedAsset = errors.New("unsupported collateral asset")

	// ErrBelowMinimum rejects a deposit below the configured minimum.
	ErrBelowMinimum = errors.New("deposit below minimum")

	// ErrUnevenAmount rejects a deposit that cannot split into equal tranches.
	ErrUnevenAmount = errors.New("deposit amount must be even")

	// ErrUnequalWithdrawal rejects a withdrawal with senior != junior during
	// phases that require balanced redemption.
	ErrUnequalWithdrawal = errors.New("equal senior and junior amounts required")

	// ErrZeroAmount rejects an operation with nothing to move.
	ErrZeroAmount = errors.New("amount must be positive")

	// ErrJuniorBlocked rejects junior redemption on emergency day one.
	ErrJuniorBlocked = errors.New("junior withdrawals blocked during emergency day one")

	// ErrInsufficientLiquidity rejects a payout exceeding vault collateral.
	ErrInsufficientLiquidity = errors.New("insufficient vault liquidity")

	// ErrInsufficientBalance rejects burning more tokens than the holder owns.
	ErrInsufficientBalance = errors.New("insufficient token balance")

	// ErrUnauthorized rejects an admin operation from a non-admin caller.
	ErrUnauthorized = errors.New("caller is not an administrator")
)

// RejectionCode maps a rejection error to a stable wire code. Unknown
// errors map to "internal".
func RejectionCode(err error) string {
	switch {
	case errors.Is(err, ErrWrongPhase):
		return "wrong_phase"
	case errors.Is(err, ErrUnsupportedAsset):
		return "unsupported_asset"
	case errors.Is(err, ErrBelowMinimum):
		return "below_minimum"
	case errors.Is(err, ErrUnevenAmount):
		return "uneven_amount"
	case errors.Is(err, ErrUnequalWithdrawal):
		return "unequal_withdrawal"
	case errors.Is(err, ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, ErrJuniorBlocked):
		return "junior_blocked"
	case errors.Is(err, ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "internal"
	}
}
