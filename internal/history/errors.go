package history

import "codeberg.org/mutker/vitalsd/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDSN    = errors.ErrorCode("history_invalid_dsn")
	ErrInvalidDriver = errors.ErrorCode("history_invalid_driver")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("history_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("history_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("history_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("history_transaction_failed")

	// Storage Errors
	ErrStorageAccess = errors.ErrorCode("history_storage_access_failed")
	ErrStorageInit   = errors.ErrInitFailed
	ErrStorageClose  = errors.ErrShutdownFailed

	// Record Errors
	ErrRecordFailed   = errors.ErrorCode("history_record_failed")
	ErrInvalidRecord  = errors.ErrorCode("history_invalid_record")
	ErrCorruptPayload = errors.ErrorCode("history_corrupt_payload")

	// Operation Errors
	ErrOperationTimeout = errors.ErrTimeout
)
