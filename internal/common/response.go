package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Response struct {
	Code    int          `json:"code"`
	Message string       `json:"message"`
	Data    any          `json:"data"`
	Details []FieldError `json:"details,omitempty"`
}

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "ok", Data: data})
}

func Fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.AbortWithStatusJSON(httpStatus, Response{Code: code, Message: msg})
}

// FailWithDetails is Fail plus one entry per rejected field.
func FailWithDetails(c *gin.Context, httpStatus int, code int, msg string, details []FieldError) {
	c.AbortWithStatusJSON(httpStatus, Response{Code: code, Message: msg, Details: details})
}
