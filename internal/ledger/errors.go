package ledger

import "fmt"

// InvariantViolation flags a logic defect, not a data defect: an accounting
// identity that correct input ordering can never break (quantity
// conservation, a cycle closing unbalanced). It is kept distinct from parse
// and schema errors so logs and tests can tell a bug from bad data.
type InvariantViolation struct {
	Instrument string
	Detail     string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation for %s: %s", e.Instrument, e.Detail)
}
