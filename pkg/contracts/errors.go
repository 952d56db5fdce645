package contracts

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned by a Connection. Remote implementations map them to and
// from the wire codes below.
var (
	ErrUnknownAnchor         = errors.New("unknown anchor")
	ErrDeviceExists          = errors.New("device already registered")
	ErrTooManyDevices        = errors.New("too many devices on anchor")
	ErrRegistrationModeOff   = errors.New("device registration mode is off")
	ErrTentativeDeviceExists = errors.New("another device was already added tentatively")
	ErrNoDeviceToVerify      = errors.New("no device to verify")
	ErrWrongCode             = errors.New("wrong verification code")
	ErrVerificationExhausted = errors.New("too many wrong verification codes")
)

var errorCodes = map[string]error{
	"unknown_anchor":          ErrUnknownAnchor,
	"device_exists":           ErrDeviceExists,
	"too_many_devices":        ErrTooManyDevices,
	"registration_mode_off":   ErrRegistrationModeOff,
	"tentative_device_exists": ErrTentativeDeviceExists,
	"no_device_to_verify":     ErrNoDeviceToVerify,
	"wrong_code":              ErrWrongCode,
	"verification_exhausted":  ErrVerificationExhausted,
}

// ErrorCode returns the wire code of err, or "internal".
func ErrorCode(err error) string {
	for code, known := range errorCodes {
		if errors.Is(err, known) {
			return code
		}
	}
	return "internal"
}

// ErrorFromCode rebuilds an error received over the wire.
func ErrorFromCode(code, message string) error {
	if known, ok := errorCodes[code]; ok {
		if message == "" || message == known.Error() {
			return known
		}
		if rest, found := strings.CutPrefix(message, known.Error()); found {
			return fmt.Errorf("%w%s", known, rest)
		}
		return fmt.Errorf("%w: %s", known, message)
	}
	return errors.New(message)
}
