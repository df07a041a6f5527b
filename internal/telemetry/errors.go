package telemetry

import "codeberg.org/mutker/vitalsd/internal/errors"

const (
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrRegister      = errors.ErrorCode("telemetry_register_failed")
)
