package errors

import "fmt"

// Lifecycle errors
func NotFound(kind, id string) *OrchestraError {
	return NewWithDetails(ErrNotFound, fmt.Sprintf("%s not found", kind), fmt.Sprintf("ID: %s", id)).
		WithContext("kind", kind).
		WithContext("id", id)
}

func InvalidTransition(from, to string) *OrchestraError {
	return NewWithDetails(ErrInvalidTransition, "Invalid status transition",
		fmt.Sprintf("%s -> %s", from, to)).
		WithContext("from", from).
		WithContext("to", to)
}

func BranchInvalid(branch, reason string) *OrchestraError {
	return NewWithDetails(ErrBranchInvalid, "Invalid branch name",
		fmt.Sprintf("Branch: %q, Reason: %s", branch, reason))
}

func PortsExhausted(min, max int) *OrchestraError {
	return NewWithDetails(ErrPortsExhausted, "No free port in range",
		fmt.Sprintf("Range: %d-%d", min, max))
}

func ImmutableField(field string) *OrchestraError {
	return NewWithDetails(ErrImmutableField, "Field cannot be changed", fmt.Sprintf("Field: %s", field))
}

// Collaborator errors
func VCSOperationFailed(op string, cause error) *OrchestraError {
	return WrapWithDetails(ErrVCSOperationFailed, "Version control operation failed",
		fmt.Sprintf("Operation: %s", op), cause)
}

func ActionFailed(actionType string, cause error) *OrchestraError {
	return WrapWithDetails(ErrActionFailed, "Action failed",
		fmt.Sprintf("Action: %s", actionType), cause)
}

func ContextUnavailable(url string, cause error) *OrchestraError {
	return WrapWithDetails(ErrContextUnavailable, "Issue context unavailable",
		fmt.Sprintf("URL: %s", url), cause)
}

// Configuration errors
func ConfigNotFound(path string) *OrchestraError {
	return NewWithDetails(ErrConfigNotFound, "Configuration file not found", fmt.Sprintf("Path: %s", path))
}

func ConfigParseError(cause error) *OrchestraError {
	return Wrap(ErrConfigParse, "Failed to parse configuration", cause)
}

func ConfigValidationError(field, reason string) *OrchestraError {
	return NewWithDetails(ErrConfigValidation, "Configuration validation failed",
		fmt.Sprintf("Field: %s, Reason: %s", field, reason))
}

// Database errors
func DatabaseQuery(op string, cause error) *OrchestraError {
	return WrapWithDetails(ErrDatabaseQuery, "Database query failed", fmt.Sprintf("Operation: %s", op), cause)
}

// Validation errors
func InvalidInput(field, reason string) *OrchestraError {
	return NewWithDetails(ErrInvalidInput, "Invalid input", fmt.Sprintf("Field: %s, Reason: %s", field, reason))
}

func Internal(message string, cause error) *OrchestraError {
	return Wrap(ErrInternal, message, cause)
}
