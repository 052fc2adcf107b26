// Package staging writes flat records into staging tables, either replacing
// the table's contents or appending to them, atomically.
package staging

import (
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
)

// Mode selects how a write treats the rows already in the table.
type Mode string

const (
	ModeReplace Mode = "replace"
	ModeAppend  Mode = "append"
)

// ParseMode validates a configured load mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeReplace:
		return ModeReplace, nil
	case ModeAppend:
		return ModeAppend, nil
	default:
		return "", apperrors.Newf(apperrors.ErrConfig, "unknown load mode %q (want replace or append)", s)
	}
}

func (m Mode) Valid() bool {
	return m == ModeReplace || m == ModeAppend
}
