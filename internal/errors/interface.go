package errors

// ErrorCode identifies an error kind across package boundaries and in API
// responses.
type ErrorCode string

// Error is a coded error. Codes survive wrapping, so callers branch on
// HasCode instead of comparing messages.
type Error interface {
	error
	Code() ErrorCode
	// Status is the HTTP status an API handler should answer with.
	Status() int
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
}

// Factory creates coded errors.
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
