package conversation

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/hrygo/ledgerdesk/accounting"
	"github.com/hrygo/ledgerdesk/ai/tools"
	"github.com/hrygo/ledgerdesk/recordstore"
)

// Category is the failure taxonomy for a turn. Every error surfaced to a
// caller is classified so the formatter can pick the right user message
// and diagnostics stay comparable across collaborators.
type Category int

const (
	// CategoryValidation: the model supplied arguments a tool rejected.
	CategoryValidation Category = iota

	// CategoryAuthExpired: a collaborator rejected credentials even after
	// the single in-turn refresh.
	CategoryAuthExpired

	// CategoryUnavailable: a collaborator could not be reached or answered
	// with a server error.
	CategoryUnavailable

	// CategoryParse: the model's output could not be interpreted even
	// after the repair round.
	CategoryParse

	// CategoryInternal: anything not matched above.
	CategoryInternal
)

func (c Category) String() string {
	switch c {
	case CategoryValidation:
		return "validation"
	case CategoryAuthExpired:
		return "auth_expired"
	case CategoryUnavailable:
		return "unavailable"
	case CategoryParse:
		return "parse"
	default:
		return "internal"
	}
}

// ClassifiedError wraps an error with its category.
type ClassifiedError struct {
	Original error
	Category Category
}

func (c *ClassifiedError) Error() string {
	if c.Original == nil {
		return fmt.Sprintf("classified error: category=%s", c.Category)
	}
	return fmt.Sprintf("%s: %v", c.Category, c.Original)
}

// Unwrap returns the original error for errors.Is/As.
func (c *ClassifiedError) Unwrap() error {
	return c.Original
}

// ErrParseFailure marks model output that survived the repair round
// without yielding something interpretable.
var ErrParseFailure = errors.New("unparseable model output")

// Classify maps an error onto the taxonomy. Sentinel and typed errors
// from the collaborators are checked first, then network and timeout
// patterns; everything else is internal.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var already *ClassifiedError
	if errors.As(err, &already) {
		return already
	}

	var verr *tools.ValidationError
	if errors.As(err, &verr) {
		return &ClassifiedError{Original: err, Category: CategoryValidation}
	}

	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		return &ClassifiedError{Original: err, Category: CategoryValidation}
	case errors.Is(err, accounting.ErrAuthExpired):
		return &ClassifiedError{Original: err, Category: CategoryAuthExpired}
	case errors.Is(err, accounting.ErrUnavailable), errors.Is(err, recordstore.ErrUnavailable):
		return &ClassifiedError{Original: err, Category: CategoryUnavailable}
	case errors.Is(err, ErrParseFailure):
		return &ClassifiedError{Original: err, Category: CategoryParse}
	}

	if isNetworkError(err) || isTimeoutError(err) {
		return &ClassifiedError{Original: err, Category: CategoryUnavailable}
	}

	return &ClassifiedError{Original: err, Category: CategoryInternal}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"network is unreachable",
		"no such host",
		"dial tcp",
		"eof",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func isTimeoutError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"timeout",
		"deadline exceeded",
		"operation timed out",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
