package filetransfer

import (
	"errors"
	"fmt"
)

var (
	ErrTransferActive = errors.New("transfer already active with peer")
	ErrNoTransfer     = errors.New("no such transfer")
	ErrChannelNotOpen = errors.New("channel not open")
	ErrInvalidFile    = errors.New("invalid file")
	ErrBufferTimeout  = errors.New("buffer drain timeout")
	ErrEngineClosed   = errors.New("transfer engine closed")
)

type TransferError struct {
	Op      string
	File    string
	Err     error
	Details string
}

func (e *TransferError) Error() string {
	if e.File != "" {
		if e.Details != "" {
			return fmt.Sprintf("%s %s: %v (%s)", e.Op, e.File, e.Err, e.Details)
		}
		return fmt.Sprintf("%s %s: %v", e.Op, e.File, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func NewFileError(op, file string, err error) *TransferError {
	return &TransferError{Op: op, File: file, Err: err}
}

func WrapError(op, file string, err error, details string) *TransferError {
	return &TransferError{Op: op, File: file, Err: err, Details: details}
}
