package constants

// HTTP Header Names
const (
	HeaderContentType   = "Content-Type"
	HeaderAuthorization = "Authorization"
	HeaderUserAgent     = "User-Agent"
	HeaderXRequestID    = "X-Request-ID"
	HeaderXForwardedFor = "X-Forwarded-For"
	HeaderXRealIP       = "X-Real-IP"
	HeaderCacheControl  = "Cache-Control"
)

// HTTP Content Types
const (
	ContentTypeJSON        = "application/json"
	ContentTypeEventStream = "text/event-stream"
	ContentTypeText        = "text/plain"
)

// Cookie names used for browser sessions
const (
	CookieAccessToken  = "access_token"
	CookieRefreshToken = "refresh_token"
)

// Common HTTP error messages
const (
	MsgUnauthorized       = "Unauthorized"
	MsgInvalidCredentials = "Could not validate credentials"
	MsgIncorrectLogin     = "Incorrect username or password"
	MsgInactiveUser       = "Inactive user"
	MsgForbidden          = "Access forbidden"
	MsgNotFound           = "Resource not found"
	MsgBadRequest         = "Invalid request"
	MsgInternalError      = "Internal server error"
)
