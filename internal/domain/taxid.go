package domain

import "fmt"

var (
	taxID10Weights  = []int{2, 4, 10, 3, 5, 9, 4, 6, 8}
	taxID12Weights1 = []int{7, 2, 4, 10, 3, 5, 9, 4, 6, 8}
	taxID12Weights2 = []int{3, 7, 2, 4, 10, 3, 5, 9, 4, 6, 8}
)

// ValidateTaxID checks a 10 or 12 digit taxpayer number and its check digits.
func ValidateTaxID(taxID string) error {
	if taxID == "" {
		return fmt.Errorf("%w: inn is required", ErrInvalidInput)
	}
	if len(taxID) != 10 && len(taxID) != 12 {
		return fmt.Errorf("%w: inn must contain 10 or 12 digits", ErrInvalidInput)
	}

	digits := make([]int, len(taxID))
	for i, r := range taxID {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: inn must contain only digits", ErrInvalidInput)
		}
		digits[i] = int(r - '0')
	}

	valid := false
	switch len(digits) {
	case 10:
		valid = checkDigit(digits, taxID10Weights) == digits[9]
	case 12:
		valid = checkDigit(digits, taxID12Weights1) == digits[10] &&
			checkDigit(digits, taxID12Weights2) == digits[11]
	}
	if !valid {
		return fmt.Errorf("%w: inn checksum mismatch", ErrInvalidInput)
	}
	return nil
}

func checkDigit(digits, weights []int) int {
	sum := 0
	for i, w := range weights {
		sum += digits[i] * w
	}
	d := sum % 11
	if d == 10 {
		d = 0
	}
	return d
}
