// Package response provides the standard HTTP response envelope.
package response

import (
	"net/http"

	"github.com/kart-io/reply-x/pkg/errors"
)

// Response is the unified response body for all HTTP endpoints.
type Response struct {
	// Code is the business error code; 0 means success.
	Code int `json:"code"`

	// Message is a human-readable description of the result.
	Message string `json:"message"`

	// Data carries the payload on success.
	Data interface{} `json:"data,omitempty"`

	// Timestamp is the response time in Unix milliseconds.
	Timestamp int64 `json:"timestamp,omitempty"`

	// RequestID echoes the request ID when one is set.
	RequestID string `json:"request_id,omitempty"`

	// HTTPCode is the HTTP status to send; not serialized.
	HTTPCode int `json:"-"`
}

// PageData wraps a paginated list payload.
type PageData struct {
	List     interface{} `json:"list"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// Success builds a success response with data.
func Success(data interface{}) *Response {
	return &Response{
		Code:     errors.OK.Code,
		Message:  errors.OK.Message,
		Data:     data,
		HTTPCode: http.StatusOK,
	}
}

// SuccessWithMessage builds a success response with a custom message.
func SuccessWithMessage(message string, data interface{}) *Response {
	r := Success(data)
	r.Message = message
	return r
}

// Err builds an error response from an Errno.
func Err(e *errors.Errno) *Response {
	return &Response{
		Code:     e.Code,
		Message:  e.Message,
		HTTPCode: e.HTTPStatus(),
	}
}

// Page builds a paginated success response.
func Page(list interface{}, total int64, page, pageSize int) *Response {
	return Success(&PageData{
		List:     list,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

// HTTPStatus returns the HTTP status for the response.
func (r *Response) HTTPStatus() int {
	if r.HTTPCode != 0 {
		return r.HTTPCode
	}
	return http.StatusOK
}
