package colmap

import "fmt"

// DecodeError reports a malformed binary record: a read past the end of the
// file or a record that does not match the documented layout.
type DecodeError struct {
	Offset int
	Want   int
	Got    int
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("colmap: malformed record at byte %d: %s", e.Offset, e.Reason)
	}
	return fmt.Sprintf("colmap: malformed record at byte %d: want %d bytes, have %d", e.Offset, e.Want, e.Got)
}
