package offchain

import "github.com/vasprail/offchain/internal/offchain/payment"

// CommandRequestObject is the payload of a request envelope (spec.md §6).
// The originator omits Status; a responder's stored copy may set it when
// retransmitted (mirroring the original command's eventual outcome).
type CommandRequestObject struct {
	CID     string          `json:"cid"`
	Command payment.Command `json:"command"`
	Status  string          `json:"status,omitempty"` // "success" | "failure"
}

// ResponseError carries the wire error code/message for a failed response.
type ResponseError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message,omitempty"`
}

// CommandResponseObject is the payload of a response envelope (spec.md §6).
type CommandResponseObject struct {
	CID    string         `json:"cid"`
	Status string         `json:"status"` // "success" | "failure"
	Error  *ResponseError `json:"error,omitempty"`
}

// Success builds a successful response.
func Success(cid string) CommandResponseObject {
	return CommandResponseObject{CID: cid, Status: "success"}
}

// Failure builds a failed response carrying the given wire error code.
func Failure(cid string, code ErrorCode, message string) CommandResponseObject {
	return CommandResponseObject{
		CID:    cid,
		Status: "failure",
		Error:  &ResponseError{Code: code, Message: message},
	}
}

// IsSuccess reports whether the response indicates success.
func (r CommandResponseObject) IsSuccess() bool { return r.Status == "success" }

// IsWait reports whether the response is the `wait` tie-break signal.
func (r CommandResponseObject) IsWait() bool {
	return r.Status == "failure" && r.Error != nil && r.Error.Code == ErrorWait
}
