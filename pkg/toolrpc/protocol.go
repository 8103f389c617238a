package toolrpc

import "encoding/json"

// Methods.
const (
	MethodToolCall  = "tool.call"
	MethodToolsList = "tools.list"
)

// Request is one client frame. ID is echoed verbatim in the response.
type Request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// CallParams are the params of tool.call.
type CallParams struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Response is one server frame. Exactly one of Result and Error is set.
type Response struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ListResult is the result of tools.list.
type ListResult struct {
	Tools []Descriptor `json:"tools"`
}

var nullID = json.RawMessage("null")

func errorResponse(id json.RawMessage, code string, err error) *Response {
	if len(id) == 0 {
		id = nullID
	}
	return &Response{ID: id, Error: &ErrorBody{Code: code, Message: err.Error()}}
}
