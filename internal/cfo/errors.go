package cfo

import "errors"

// RequestError is a transport failure or a non-2xx answer without envelope.
type RequestError struct {
	Status  int
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	return "API request failed: " + e.Message
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// APIError is an envelope with success=false.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return "API returned error: " + e.Message
}

// IsNotFound reports whether err is a 404 answer of the platform.
func IsNotFound(err error) bool {
	var aerr *APIError
	if errors.As(err, &aerr) {
		return aerr.Status == 404
	}
	var rerr *RequestError
	if errors.As(err, &rerr) {
		return rerr.Status == 404
	}
	return false
}

// Message extracts the platform message from err for lines that print it
// without the "API ..." prefix.
func Message(err error) string {
	var aerr *APIError
	if errors.As(err, &aerr) {
		return aerr.Message
	}
	var rerr *RequestError
	if errors.As(err, &rerr) {
		return rerr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
