package response

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Result 统一响应结构
type Result struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// Success 成功响应，message 为空时使用默认提示
func Success(data interface{}, message ...string) Result {
	return Result{Status: StatusSuccess, Message: pick(message, "操作成功"), Data: data}
}

// Failed 失败响应，message 为空时使用默认提示
func Failed(data interface{}, message ...string) Result {
	return Result{Status: StatusFailed, Message: pick(message, "操作失败"), Data: data}
}

// Of 按结果选择成功或失败
func Of(ok bool, data interface{}, message string) Result {
	if ok {
		return Success(data, message)
	}
	return Failed(data, message)
}

// OK 是否为成功响应
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

func pick(message []string, def string) string {
	if len(message) > 0 && message[0] != "" {
		return message[0]
	}
	return def
}
