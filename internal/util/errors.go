package util

import (
	"fmt"
	"net/http"
)

// MyResponseError is an error that already knows the HTTP status it maps to.
type MyResponseError struct {
	Msg    string
	Status int
}

func (e MyResponseError) Error() string { return e.Msg }

func NewResponseError(status int, format string, args ...interface{}) error {
	return MyResponseError{
		Msg:    fmt.Sprintf(format, args...),
		Status: status,
	}
}

func NewBadRequestError(format string, args ...interface{}) error {
	return NewResponseError(http.StatusBadRequest, format, args...)
}
