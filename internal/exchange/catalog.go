package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ReturnableLineSource is the backing query for return-eligible lines.
type ReturnableLineSource interface {
	ReturnableLines(ctx context.Context, labCode string) ([]ReturnableLine, error)
}

// Snapshot is one catalog load for a laboratory. Available quantities are
// fixed for its lifetime; they are not re-queried during aggregation.
type Snapshot struct {
	LaboratoryCode string           `json:"laboratory_code"`
	LoadedAt       time.Time        `json:"loaded_at"`
	Lines          []ReturnableLine `json:"lines"`
}

// Find locates a line by its composite key.
func (s *Snapshot) Find(key LineKey) (ReturnableLine, bool) {
	for _, line := range s.Lines {
		if line.Key() == key {
			return line, true
		}
	}
	return ReturnableLine{}, false
}

// FindByIdentity locates a line ignoring the positional ordinal, used to
// re-resolve detail lines against a refreshed snapshot.
func (s *Snapshot) FindByIdentity(id LineIdentity) (ReturnableLine, bool) {
	for _, line := range s.Lines {
		if line.Key().Identity() == id {
			return line, true
		}
	}
	return ReturnableLine{}, false
}

// Catalog loads return-eligible line snapshots.
type Catalog struct {
	source ReturnableLineSource
	group  singleflight.Group
}

// NewCatalog builds a Catalog over the given source.
func NewCatalog(source ReturnableLineSource) *Catalog {
	return &Catalog{source: source}
}

// Load snapshots the return-eligible lines for a laboratory, assigning the
// 0-based ordinal positions. Concurrent loads for the same laboratory are
// collapsed into one backing query. An empty result is a valid snapshot.
func (c *Catalog) Load(ctx context.Context, labCode string) (*Snapshot, error) {
	// The flight's result is shared with every waiter, so the backing query
	// must not inherit the first caller's cancellation.
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do(labCode, func() (interface{}, error) {
		lines, err := c.source.ReturnableLines(loadCtx, labCode)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}
		for i := range lines {
			lines[i].OrdinalIndex = i
		}
		return &Snapshot{
			LaboratoryCode: labCode,
			LoadedAt:       time.Now(),
			Lines:          lines,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Refresh re-issues the catalog query and returns a replacement snapshot.
// Ordinal positions may shift; callers must rebind open drafts.
func (c *Catalog) Refresh(ctx context.Context, labCode string) (*Snapshot, error) {
	c.group.Forget(labCode)
	return c.Load(ctx, labCode)
}

// Search filters a snapshot with a case- and accent-insensitive substring
// match over product code, product name, source guide, lot and reference.
// A blank query returns every line. The search is pure; it never mutates the
// snapshot.
func Search(s *Snapshot, query string) []ReturnableLine {
	if s == nil {
		return nil
	}
	needle := foldForSearch(query)
	if needle == "" {
		out := make([]ReturnableLine, len(s.Lines))
		copy(out, s.Lines)
		return out
	}
	var out []ReturnableLine
	for _, line := range s.Lines {
		haystack := foldForSearch(strings.Join([]string{
			line.ProductCode,
			line.ProductName,
			line.SourceGuideNumber,
			line.Lot,
			line.Reference,
		}, " "))
		if strings.Contains(haystack, needle) {
			out = append(out, line)
		}
	}
	return out
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldForSearch lowercases and strips diacritics so "ibupro" matches
// "Ibuprofeno" and "jarabe" matches "JARABÉ".
func foldForSearch(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}
