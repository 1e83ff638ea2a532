package authn

// Code classifies a failed login. Callers render exactly one stable message
// per code; unknown identifier and wrong secret share INVALID_CREDENTIALS so
// responses never confirm whether an identifier exists.
type Code string

const (
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeAccountInactive    Code = "ACCOUNT_INACTIVE"
	CodeMaxSessions        Code = "MAX_SESSIONS_REACHED"
	CodeSystemError        Code = "AUTH_SYSTEM_ERROR"
)

var codeMessages = map[Code]string{
	CodeRateLimited:        "Too many failed attempts. Try again later.",
	CodeInvalidCredentials: "Incorrect identifier or password.",
	CodeAccountInactive:    "This account is inactive. Contact an administrator.",
	CodeMaxSessions:        "Maximum number of concurrent sessions reached.",
	CodeSystemError:        "Authentication is temporarily unavailable. Try again.",
}

// Message returns the stable user-facing message for the code.
func (c Code) Message() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return codeMessages[CodeSystemError]
}
