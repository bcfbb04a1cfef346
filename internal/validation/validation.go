package validation

import (
	"errors"
	"math/big"
	"regexp"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

var (
	ethereumAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	urlRegex             = regexp.MustCompile(`^(https?|wss?)://[^\s/$.?#].[^\s]*$`)
)

// ValidateAddress validates an EVM address string
func ValidateAddress(address string) error {
	if address == "" {
		return errors.New("address cannot be empty")
	}
	if !ethereumAddressRegex.MatchString(address) {
		return errors.New("invalid Ethereum address format")
	}
	return nil
}

// ParseAddress validates and converts an EVM address string
func ParseAddress(address string) (common.Address, error) {
	if err := ValidateAddress(address); err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(address), nil
}

// ParseNonZeroAddress is ParseAddress that also rejects the zero address
func ParseNonZeroAddress(address string) (common.Address, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return addr, err
	}
	if addr == (common.Address{}) {
		return addr, errors.New("address cannot be the zero address")
	}
	return addr, nil
}

// ValidateAmount validates amount is positive and fits in a uint256
func ValidateAmount(amount *big.Int) error {
	if amount == nil {
		return errors.New("amount cannot be nil")
	}

	if amount.Sign() <= 0 {
		return errors.New("amount must be positive")
	}

	if amount.Cmp(math.MaxBig256) > 0 {
		return errors.New("amount exceeds uint256")
	}

	return nil
}

// ValidateURL validates URL format
func ValidateURL(url string) error {
	if url == "" {
		return errors.New("URL cannot be empty")
	}

	if !urlRegex.MatchString(url) {
		return errors.New("invalid URL format")
	}

	return nil
}
