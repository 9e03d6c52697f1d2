package billing

import "errors"

var (
	// ErrAdmissionRejected marks a signal refused by admission control. It is an outcome, not a fault.
	ErrAdmissionRejected = errors.New("billing: admission rejected")
	// ErrInvalidThresholdTransition indicates unsnooze thresholds that do not exceed the current count.
	ErrInvalidThresholdTransition = errors.New("billing: invalid threshold transition")
	// ErrInvalidThreshold indicates a non-positive or inconsistent threshold value.
	ErrInvalidThreshold = errors.New("billing: invalid threshold")
	// ErrUnknownEntity indicates an entity type other than account or camera.
	ErrUnknownEntity = errors.New("billing: unknown entity type")
)
