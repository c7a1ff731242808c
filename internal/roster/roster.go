// Package roster imports player lists for new sessions.
package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"mafiapanel/internal/domain"
)

// MaxNameLength bounds display names after normalization, in runes
const MaxNameLength = 40

var ErrDuplicateName = errors.New("duplicate player name")

// Importer supplies the seated players of a table
type Importer interface {
	Import(ctx context.Context) ([]domain.Player, error)
}

// Entry is one row of an imported roster. Seat may be omitted, in which
// case entries are seated in file order.
type Entry struct {
	Seat       int    `json:"seat,omitempty"`
	Name       string `json:"name"`
	ProfileRef string `json:"profileRef,omitempty"`
	AvatarRef  string `json:"avatarRef,omitempty"`
}

type document struct {
	Players []Entry `json:"players"`
}

// FileImporter reads a JSON roster, either a bare array of entries or an
// object with a "players" array.
type FileImporter struct {
	path string
}

// NewFileImporter creates an importer for the file at path
func NewFileImporter(path string) *FileImporter {
	return &FileImporter{path: path}
}

func (f *FileImporter) Import(ctx context.Context) ([]domain.Player, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	entries, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Build(entries)
}

// Decode parses roster JSON in either accepted shape.
func Decode(data []byte) ([]Entry, error) {
	trimmed := strings.TrimLeftFunc(string(data), unicode.IsSpace)
	if strings.HasPrefix(trimmed, "[") {
		var entries []Entry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("decode roster: %w", err)
		}
		return entries, nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	return doc.Players, nil
}

// Build normalizes entries into a validated roster sorted by seat.
func Build(entries []Entry) ([]domain.Player, error) {
	players := make([]domain.Player, 0, len(entries))
	seen := make(map[string]int, len(entries))
	for i, e := range entries {
		seat := e.Seat
		if seat == 0 {
			seat = i + 1
		}
		name := NormalizeName(e.Name)
		if key := strings.ToLower(name); key != "" {
			if other, ok := seen[key]; ok {
				return nil, fmt.Errorf("%w: %q at seats %d and %d", ErrDuplicateName, name, other, seat)
			}
			seen[key] = seat
		}
		players = append(players, domain.Player{
			Seat:       seat,
			Name:       name,
			ProfileRef: strings.TrimSpace(e.ProfileRef),
			AvatarRef:  strings.TrimSpace(e.AvatarRef),
		})
	}
	return domain.ValidateRoster(players)
}

// NormalizeName composes the name to NFC, folds full-width and half-width
// forms to their canonical width, collapses whitespace runs and drops
// control characters.
func NormalizeName(name string) string {
	name = width.Fold.String(norm.NFC.String(name))

	var b strings.Builder
	space := false
	for _, r := range name {
		switch {
		case unicode.IsSpace(r):
			space = b.Len() > 0
		case unicode.IsControl(r):
		default:
			if space {
				b.WriteByte(' ')
				space = false
			}
			b.WriteRune(r)
		}
	}

	out := b.String()
	if runes := []rune(out); len(runes) > MaxNameLength {
		out = strings.TrimSpace(string(runes[:MaxNameLength]))
	}
	return out
}

// Static is an in-memory importer
type Static []Entry

func (s Static) Import(ctx context.Context) ([]domain.Player, error) {
	return Build(s)
}
