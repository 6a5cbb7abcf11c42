package save

import (
	"errors"
	"fmt"
)

var (
	// ErrContainerFormat means no block could be decoded.
	ErrContainerFormat = errors.New("not a readable save container")
	// ErrEncoding means the decoded payload is not UTF-8.
	ErrEncoding = errors.New("payload is not valid UTF-8")
	// ErrParse means the payload is not a complete JSON document.
	ErrParse = errors.New("payload is not valid JSON")
)

// Stage names used in StageError.
const (
	StageRead      = "read"
	StageDecode    = "decode"
	StageUTF8      = "utf8"
	StageParse     = "parse"
	StageMapping   = "mapping"
	StageSerialize = "serialize"
	StageEncode    = "encode"
)

// StageError reports which step of an extraction or recompression failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage string, err error) error {
	return &StageError{Stage: stage, Err: err}
}
