package collector

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"token-collector/internal/models"
)

var (
	ErrNotOwner                  = errors.New("caller is not the owner")
	ErrInvalidOwner              = errors.New("new owner is the zero address")
	ErrInvalidAddress            = errors.New("address is the zero address")
	ErrAlreadyMaster             = errors.New("master address already registered")
	ErrNotMaster                 = errors.New("address is not a master address")
	ErrNoAuthorizationGranted    = errors.New("user did not grant a sufficient authorization")
	ErrAlreadyRegistered         = errors.New("user already registered for asset")
	ErrInsufficientAuthorization = errors.New("authorization does not cover balance")
)

// PartialWithdrawalError is returned when a pull fails on a ledger that cannot
// roll back, after some pulls of the batch were already executed.
type PartialWithdrawalError struct {
	Asset  common.Address
	Pulled []models.Pull
	Failed common.Address
	Err    error
}

func (e *PartialWithdrawalError) Error() string {
	return fmt.Sprintf("withdrawal of %s stopped at %s after %d pulls: %v",
		e.Asset.Hex(), e.Failed.Hex(), len(e.Pulled), e.Err)
}

func (e *PartialWithdrawalError) Unwrap() error {
	return e.Err
}

// reason maps an error onto a short metrics label
func reason(err error) string {
	switch {
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ErrInvalidOwner):
		return "invalid_owner"
	case errors.Is(err, ErrInvalidAddress):
		return "invalid_address"
	case errors.Is(err, ErrAlreadyMaster):
		return "already_master"
	case errors.Is(err, ErrNotMaster):
		return "not_master"
	case errors.Is(err, ErrNoAuthorizationGranted):
		return "no_authorization"
	case errors.Is(err, ErrAlreadyRegistered):
		return "already_registered"
	case errors.Is(err, ErrInsufficientAuthorization):
		return "insufficient_authorization"
	default:
		return "internal"
	}
}

// AccessError is returned by the access guard when the caller lacks a role.
// It wraps ErrNotOwner or ErrNotMaster.
type AccessError struct {
	Caller common.Address
	Err    error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("%s: %v", e.Caller.Hex(), e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}
