package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrProctorAccessOnly ErrCode = "PROCTOR_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation ErrCode = "VALIDATION_ERROR"
	ErrInvalidID  ErrCode = "INVALID_ID"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Session lifecycle ─────────────────────────────────────────────
	ErrSessionAlreadyActive ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrSessionNotFound      ErrCode = "SESSION_NOT_FOUND"
	ErrSessionNotActive     ErrCode = "SESSION_NOT_ACTIVE"
	ErrSessionExpired       ErrCode = "SESSION_EXPIRED"
	ErrInvalidPauseCode     ErrCode = "INVALID_PAUSE_CODE"
	ErrRetakeNotAllowed     ErrCode = "RETAKE_NOT_ALLOWED"
	ErrClockUnavailable     ErrCode = "CLOCK_UNAVAILABLE"

	// ─── Exam ──────────────────────────────────────────────────────────
	ErrExamNotAvailable ErrCode = "EXAM_NOT_AVAILABLE"
	ErrNoQuestions      ErrCode = "NO_QUESTIONS"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrStudentAccessOnly:
		return "This resource is restricted to students."
	case ErrProctorAccessOnly:
		return "This resource is restricted to proctors."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."

	// ─── Session lifecycle ─────────────────────────────────────────────
	case ErrSessionAlreadyActive:
		return "You already have an active attempt for this exam. Resume it instead."
	case ErrSessionNotFound:
		return "No session was found for this exam. Start a new attempt."
	case ErrSessionNotActive:
		return "This session is not in progress."
	case ErrSessionExpired:
		return "The time limit for this attempt has passed. It has been submitted automatically."
	case ErrInvalidPauseCode:
		return "The pause code is invalid or has already been used."
	case ErrRetakeNotAllowed:
		return "You have already completed this exam and retakes are not allowed."
	case ErrClockUnavailable:
		return "The exam could not be started right now. Please try again."

	// ─── Exam ──────────────────────────────────────────────────────────
	case ErrExamNotAvailable:
		return "This exam is currently not available."
	case ErrNoQuestions:
		return "This exam has no questions."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
