package user

// Provider error codes surfaced to clients.
const (
	CodeEmailAlreadyInUse            = "auth/email-already-in-use"
	CodeInvalidEmail                 = "auth/invalid-email"
	CodeOperationNotAllowed          = "auth/operation-not-allowed"
	CodeWeakPassword                 = "auth/weak-password"
	CodeUserDisabled                 = "auth/user-disabled"
	CodeUserNotFound                 = "auth/user-not-found"
	CodeWrongPassword                = "auth/wrong-password"
	CodeInvalidCredential            = "auth/invalid-credential"
	CodeTooManyRequests              = "auth/too-many-requests"
	CodeNetworkRequestFailed         = "auth/network-request-failed"
	CodePopupBlocked                 = "auth/popup-blocked"
	CodePopupClosedByUser            = "auth/popup-closed-by-user"
	CodeCancelledPopupRequest        = "auth/cancelled-popup-request"
	CodeUnauthorizedDomain           = "auth/unauthorized-domain"
	CodeAccountExistsWithDifferentCr = "auth/account-exists-with-different-credential"
	CodeTimeout                      = "auth/timeout"

	genericAuthMessage = "An error occurred. Please try again"
)

var authMessages = map[string]string{
	CodeEmailAlreadyInUse:            "An account with this email already exists",
	CodeInvalidEmail:                 "Invalid email address",
	CodeOperationNotAllowed:          "This sign-in method is not enabled. Please contact support.",
	CodeWeakPassword:                 "Password is too weak",
	CodeUserDisabled:                 "This account has been disabled",
	CodeUserNotFound:                 "No account found with this email",
	CodeWrongPassword:                "Incorrect password",
	CodeInvalidCredential:            "Invalid email or password",
	CodeTooManyRequests:              "Too many unsuccessful attempts. Please try again later.",
	CodeNetworkRequestFailed:         "A network error occurred. Please check your connection and try again.",
	CodePopupBlocked:                 "Sign-in popup was blocked. Please allow popups for this site.",
	CodePopupClosedByUser:            "Sign-in was cancelled.",
	CodeCancelledPopupRequest:        "Another sign-in request is pending.",
	CodeUnauthorizedDomain:           "This domain is not authorized for OAuth operations.",
	CodeAccountExistsWithDifferentCr: "An account already exists with the same email address but different sign-in credentials.",
	CodeTimeout:                      "The operation has timed out. Please try again.",
}

// AuthMessage returns the user-facing message for a provider error code.
func AuthMessage(code string) string {
	if msg, ok := authMessages[code]; ok {
		return msg
	}
	return genericAuthMessage
}

// AuthError is an identity provider error identified by its code.
type AuthError struct {
	Code string
}

func (e *AuthError) Error() string { return AuthMessage(e.Code) }

var (
	ErrEmailAlreadyInUse   = &AuthError{Code: CodeEmailAlreadyInUse}
	ErrUserDisabled        = &AuthError{Code: CodeUserDisabled}
	ErrUserNotFound        = &AuthError{Code: CodeUserNotFound}
	ErrWrongPassword       = &AuthError{Code: CodeWrongPassword}
	ErrInvalidCredential   = &AuthError{Code: CodeInvalidCredential}
	ErrOperationNotAllowed = &AuthError{Code: CodeOperationNotAllowed}
	ErrAccountExists       = &AuthError{Code: CodeAccountExistsWithDifferentCr}
)
