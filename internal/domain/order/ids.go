package order

import (
	"crypto/rand"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
)

const (
	displayAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	displayLen      = 4
)

// FormatID renders the sequential order id, e.g. ORD-2026-0042.
func FormatID(year, seq int) string {
	return fmt.Sprintf("ORD-%d-%04d", year, seq)
}

// ParseID extracts year and sequence from an id produced by FormatID.
func ParseID(id string) (year, seq int, ok bool) {
	parts := strings.Split(id, "-")
	if len(parts) != 3 || parts[0] != "ORD" {
		return 0, 0, false
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	seq, err = strconv.Atoi(parts[2])
	if err != nil || seq <= 0 {
		return 0, 0, false
	}
	return year, seq, true
}

// NewDisplayCode draws a random 4-character code from [A-Z0-9]. It carries no
// information about the sequence.
func NewDisplayCode(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	// Rejection sampling keeps the distribution uniform: 252 is the largest
	// multiple of 36 below 256.
	const limit = 252
	out := make([]byte, 0, displayLen)
	buf := make([]byte, displayLen*2)
	for len(out) < displayLen {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", errors.Wrap(err, "read random")
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, displayAlphabet[int(b)%len(displayAlphabet)])
			if len(out) == displayLen {
				break
			}
		}
	}
	return string(out), nil
}
