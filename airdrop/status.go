package airdrop

import (
	"fmt"
	"strings"
)

// Status is the lifecycle stage of a transaction.
type Status uint8

const (
	StatusNew Status = iota + 1
	StatusSigned
	StatusSent
	StatusMined
)

var statusNames = map[Status]string{
	StatusNew:    "NEW",
	StatusSigned: "SIGNED",
	StatusSent:   "SENT",
	StatusMined:  "MINED",
}

// ParseStatus converts the textual form back into a Status.
func ParseStatus(s string) (Status, error) {
	for status, name := range statusNames {
		if strings.EqualFold(s, name) {
			return status, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown status %q", ErrCorruptedRecord, s)
}

// Valid reports whether s is one of the defined stages.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// CanAdvanceTo reports whether next is the immediate successor of s.
func (s Status) CanAdvanceTo(next Status) bool {
	return s.Valid() && next.Valid() && next == s+1
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: status %d", ErrCorruptedRecord, uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
