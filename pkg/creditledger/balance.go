package creditledger

import "fmt"

// UnlimitedSentinel is the fixed integer reported for unlimited balances
// by Value. It keeps the externally visible balance a single numeric type
// for stores and APIs that cannot carry a tagged value.
const UnlimitedSentinel int64 = 999_999_999

// Balance is a credit balance: either a finite non-negative number of
// credits or unlimited. The accrued finite count is maintained even while
// the balance is unlimited, so a later finite grant reveals it instead of
// doing arithmetic on a sentinel.
type Balance struct {
	// Credits is the accrued finite credit count.
	Credits int64

	// Unlimited marks the balance as uncapped.
	Unlimited bool
}

// Finite returns a finite balance of n credits, clamped at zero.
func Finite(n int64) Balance {
	if n < 0 {
		n = 0
	}
	return Balance{Credits: n}
}

// UnlimitedBalance returns an unlimited balance with no accrued credits.
func UnlimitedBalance() Balance {
	return Balance{Unlimited: true}
}

// Value reports the balance as a single integer: the credit count, or
// UnlimitedSentinel while unlimited.
func (b Balance) Value() int64 {
	if b.Unlimited {
		return UnlimitedSentinel
	}
	return b.Credits
}

// Add returns the balance with delta applied to the accrued credits,
// clamped at zero. The unlimited flag is preserved.
func (b Balance) Add(delta int64) Balance {
	b.Credits += delta
	if b.Credits < 0 {
		b.Credits = 0
	}
	return b
}

// WithUnlimited returns the balance with the unlimited flag set as given,
// keeping the accrued credits intact.
func (b Balance) WithUnlimited(unlimited bool) Balance {
	b.Unlimited = unlimited
	return b
}

func (b Balance) String() string {
	if b.Unlimited {
		return "unlimited"
	}
	return fmt.Sprintf("%d", b.Credits)
}
