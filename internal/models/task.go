// Package models defines types shared across internal packages.
package models

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	kerrors "github.com/alexjbarnes/kanban-sync/internal/errors"
	"golang.org/x/text/unicode/norm"
)

// Column is one of the four fixed board columns.
type Column string

const (
	ColumnBacklog    Column = "backlog"
	ColumnNotStarted Column = "not-started"
	ColumnInProgress Column = "in-progress"
	ColumnDone       Column = "done"
)

// Columns lists the board columns in display order.
var Columns = []Column{ColumnBacklog, ColumnNotStarted, ColumnInProgress, ColumnDone}

// idSuffixLen is the number of random base36 characters appended to the
// timestamp part of a generated task ID.
const idSuffixLen = 6

// Valid reports whether c is one of the fixed columns.
func (c Column) Valid() bool {
	switch c {
	case ColumnBacklog, ColumnNotStarted, ColumnInProgress, ColumnDone:
		return true
	}

	return false
}

// ParseColumn converts s to a Column, rejecting anything outside the
// fixed set. Surrounding whitespace is ignored.
func ParseColumn(s string) (Column, error) {
	c := Column(strings.TrimSpace(s))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", kerrors.ErrInvalidColumn, s)
	}

	return c, nil
}

// Task is a single card on the board.
type Task struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Desc   string `json:"desc,omitempty"`
	Column Column `json:"column"`
}

// NormalizeTitle trims whitespace and applies NFC normalisation so
// visually identical titles compare equal. An empty result is rejected.
func NormalizeTitle(title string) (string, error) {
	t := norm.NFC.String(strings.TrimSpace(title))
	if t == "" {
		return "", kerrors.ErrEmptyTitle
	}

	return t, nil
}

// NewID returns a client-generated task ID: the millisecond timestamp in
// base36 followed by a short random base36 suffix. The server trusts
// client IDs, so collisions must be negligible rather than impossible.
func NewID(now time.Time) string {
	var b strings.Builder

	b.WriteString(strconv.FormatInt(now.UnixMilli(), 36))

	for range idSuffixLen {
		b.WriteString(strconv.FormatInt(rand.Int64N(36), 36))
	}

	return b.String()
}
