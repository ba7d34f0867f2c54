package costbasis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/atmx/pnl-engine/internal/model"
)

// Method selects the order in which open lots are consumed by a sale.
type Method int

const (
	// FIFO consumes the oldest lot first.
	FIFO Method = iota
	// LIFO consumes the newest lot first.
	LIFO
	// HIFO consumes the highest unit cost first, minimizing realized gain.
	HIFO
	// SpecID is caller-chosen allocation. No allocation input exists yet, so
	// lots pass through in their given order.
	SpecID
)

func (m Method) String() string {
	switch m {
	case FIFO:
		return "FIFO"
	case LIFO:
		return "LIFO"
	case HIFO:
		return "HIFO"
	case SpecID:
		return "SPEC_ID"
	default:
		return "UNKNOWN"
	}
}

// ParseMethod parses a method name. The empty string means FIFO.
func ParseMethod(s string) (Method, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "FIFO":
		return FIFO, nil
	case "LIFO":
		return LIFO, nil
	case "HIFO":
		return HIFO, nil
	case "SPEC_ID", "SPECID", "SPECIFIC_ID":
		return SpecID, nil
	default:
		return FIFO, fmt.Errorf("%w: unknown method %q", ErrValidation, s)
	}
}

func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Method) UnmarshalText(b []byte) error {
	parsed, err := ParseMethod(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Order returns lots in the order m consumes them. The input slice is not
// modified; ties keep their input order.
func Order(m Method, lots []*model.Lot) []*model.Lot {
	ordered := make([]*model.Lot, len(lots))
	copy(ordered, lots)

	switch m {
	case FIFO:
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].AcquiredAt.Before(ordered[j].AcquiredAt)
		})
	case LIFO:
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].AcquiredAt.After(ordered[j].AcquiredAt)
		})
	case HIFO:
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].UnitCost.GreaterThan(ordered[j].UnitCost)
		})
	}
	return ordered
}
