package outbox

import (
	"errors"

	"github.com/segmentio/kafka-go"
)

// PermanentError marks a publish failure that retrying cannot fix
// (malformed payload, message too large). The processor dead-letters the
// record immediately instead of scheduling a retry.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent publish failure: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether a publish failure should bypass retry
// scheduling. Anything not recognized as permanent is treated as transient,
// which at worst costs a wasted retry.
func IsPermanent(err error) bool {
	var perm *PermanentError
	if errors.As(err, &perm) {
		return true
	}
	var tooLarge kafka.MessageTooLargeError
	if errors.As(err, &tooLarge) {
		return true
	}
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		switch kerr {
		case kafka.MessageSizeTooLarge, kafka.InvalidMessage, kafka.InvalidMessageSize:
			return true
		}
	}
	return false
}
