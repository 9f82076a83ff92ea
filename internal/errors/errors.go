// internal/errors/errors.go
package apperrors

// AppError is an application error that carries the HTTP status the
// API layer should respond with.
type AppError struct {
	Status  int
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

// New builds an AppError with an explicit status.
func New(status int, message string) *AppError {
	return &AppError{Status: status, Message: message}
}

// NotFound builds a 404 error.
func NotFound(message string) *AppError {
	return &AppError{Status: 404, Message: message}
}

// BadRequest builds a 400 error.
func BadRequest(message string) *AppError {
	return &AppError{Status: 400, Message: message}
}
