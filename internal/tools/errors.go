package tools

import (
	"bytes"
	"errors"
	"io"
)

// Sentinel errors describing tool failure modes.
var (
	ErrNotFound            = errors.New("tool not found")
	ErrToolInputInvalid    = errors.New("tool input invalid")
	ErrToolExecutionFailed = errors.New("tool execution failed")
	ErrToolTimeout         = errors.New("tool timed out")
)

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
