package errs

// 错误码分段：
//   1xxx 通用
//   2xxx 凭证/会话
//   3xxx 记录/数据
const (
	ArgsError          = 1001
	InternalServerErr  = 1500
	TokenExpiredError  = 2001
	TokenInvalidError  = 2002
	RecordNotFoundErr  = 3001
	NotSubscriberError = 3002
)

var (
	ErrArgs           = NewCodeError(ArgsError, "args invalid")
	ErrInternalServer = NewCodeError(InternalServerErr, "internal server error")

	// ErrTokenExpired feed 凭证过期：客户端应 rebind 后重连，不视为致命错误
	ErrTokenExpired = NewCodeError(TokenExpiredError, "token expired")
	ErrTokenInvalid = NewCodeError(TokenInvalidError, "token invalid")

	ErrRecordNotFound = NewCodeError(RecordNotFoundErr, "record not found")

	// ErrNotSubscriber 当前身份不在会话的 subscribers 里（视为无数据，而非异常）
	ErrNotSubscriber = NewCodeError(NotSubscriberError, "identity is not a subscriber of conversation")
)
