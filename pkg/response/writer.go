package response

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/reply-x/pkg/errors"
)

// RequestIDKey is the gin context key under which middleware stores the
// request ID.
const RequestIDKey = "X-Request-ID"

func send(c *gin.Context, r *Response) {
	r.Timestamp = time.Now().UnixMilli()
	if id := c.GetString(RequestIDKey); id != "" {
		r.RequestID = id
	}
	c.JSON(r.HTTPStatus(), r)
}

// OK sends a successful response with data.
func OK(c *gin.Context, data interface{}) {
	send(c, Success(data))
}

// OKWithMessage sends a successful response with a custom message.
func OKWithMessage(c *gin.Context, message string, data interface{}) {
	send(c, SuccessWithMessage(message, data))
}

// Fail sends an error response using an Errno.
func Fail(c *gin.Context, e *errors.Errno) {
	send(c, Err(e))
}

// Warn sends data under a non-zero warning code, for results that are
// usable but incomplete.
func Warn(c *gin.Context, e *errors.Errno, data interface{}) {
	r := Err(e)
	r.Data = data
	send(c, r)
}

// FailWithError converts a standard error and sends it. Errno values keep
// their code and HTTP mapping; anything else becomes ErrInternal.
func FailWithError(c *gin.Context, err error) {
	Fail(c, errors.FromError(err))
}

// FailWithBind sends a validation error for a request binding failure.
func FailWithBind(c *gin.Context, err error) {
	Fail(c, errors.ErrValidation.WithMessage("invalid request body: "+err.Error()))
}

// PageOK sends a paginated response.
func PageOK(c *gin.Context, list interface{}, total int64, page, pageSize int) {
	send(c, Page(list, total, page, pageSize))
}
