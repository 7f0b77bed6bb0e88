package transform

import "fmt"

// DecodeError reports a failed charset conversion.
type DecodeError struct {
	Charset string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("transform: convert %s: %v", e.Charset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// UnsupportedCharsetError reports a charset name no codec is registered for.
type UnsupportedCharsetError struct {
	Charset string
}

func (e *UnsupportedCharsetError) Error() string {
	return fmt.Sprintf("transform: unsupported charset %q", e.Charset)
}

// ParseError reports markup that could not be turned into a document tree.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("transform: parse markup: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TranscodeError reports an image that could not be decoded or re-encoded.
type TranscodeError struct {
	MediaType string
	Err       error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("transform: transcode %s: %v", e.MediaType, e.Err)
}

func (e *TranscodeError) Unwrap() error { return e.Err }
