// Package lotno parses and allocates lot numbers of the form SERIES/START[/END].
package lotno

import (
	"sort"
	"strconv"
	"strings"

	"github.com/garmentflow/garmentflow/internal/shared"
)

const (
	minBatch = 1
	maxBatch = 100
)

// Number is the parsed form of SERIES/START[/END], e.g. "C/14" or "C/14/18".
// Series is a single letter A-Z. Batches run 1..100 within a series; after batch 100
// numbering continues at batch 1 of the next letter.
type Number struct {
	Series byte
	Start  int
	End    int
}

// Parse parses raw, rejecting anything that is not SERIES/START[/END].
// Lowercase series letters and leading zeros are normalised.
func Parse(raw string) (Number, error) {
	trimmed := strings.TrimSpace(raw)
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 || len(parts) > 3 {
		return Number{}, shared.Validationf("lotNumber %q must look like SERIES/START or SERIES/START/END", raw)
	}
	series := strings.ToUpper(strings.TrimSpace(parts[0]))
	if len(series) != 1 || series[0] < 'A' || series[0] > 'Z' {
		return Number{}, shared.Validationf("lotNumber %q: series must be a single letter A-Z", raw)
	}
	start, err := parseBatch(parts[1])
	if err != nil {
		return Number{}, shared.Validationf("lotNumber %q: start batch %v", raw, err)
	}
	n := Number{Series: series[0], Start: start, End: start}
	if len(parts) == 3 {
		end, err := parseBatch(parts[2])
		if err != nil {
			return Number{}, shared.Validationf("lotNumber %q: end batch %v", raw, err)
		}
		if end < start {
			return Number{}, shared.Validationf("lotNumber %q: end batch %d is before start batch %d", raw, end, start)
		}
		n.End = end
	}
	return n, nil
}

// Canonical returns the stored form of raw, so "a/01" and "A/1" name the same lot.
func Canonical(raw string) (string, error) {
	n, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return n.String(), nil
}

type batchError string

func (e batchError) Error() string { return string(e) }

func parseBatch(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, batchError("is empty")
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, batchError("must be a whole number")
		}
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < minBatch || n > maxBatch {
		return 0, batchError("must be between 1 and 100")
	}
	return n, nil
}

// String renders the canonical form stored on lots and ledger rows.
func (n Number) String() string {
	if n.Series == 0 {
		return ""
	}
	s := string(n.Series) + "/" + strconv.Itoa(n.Start)
	if n.End > n.Start {
		s += "/" + strconv.Itoa(n.End)
	}
	return s
}

// IsRange reports whether the lot spans more than one batch.
func (n Number) IsRange() bool {
	return n.End > n.Start
}

// Batches returns how many batches the lot covers.
func (n Number) Batches() int {
	return n.End - n.Start + 1
}

// After reports whether n's last batch comes after other's last batch.
func (n Number) After(other Number) bool {
	if n.Series != other.Series {
		return n.Series > other.Series
	}
	return n.End > other.End
}

// Next returns the batch following the highest lot in existing. An empty input
// yields A/1. Z/100 is the last lot number there is.
func Next(existing []Number) (Number, error) {
	if len(existing) == 0 {
		return Number{Series: 'A', Start: minBatch, End: minBatch}, nil
	}
	highest := existing[0]
	for _, n := range existing[1:] {
		if n.After(highest) {
			highest = n
		}
	}
	if highest.End < maxBatch {
		next := highest.End + 1
		return Number{Series: highest.Series, Start: next, End: next}, nil
	}
	if highest.Series == 'Z' {
		return Number{}, shared.Validationf("lot numbers exhausted after %s", highest)
	}
	return Number{Series: highest.Series + 1, Start: minBatch, End: minBatch}, nil
}

// ParseAll parses stored lot numbers in ascending order and returns the malformed ones separately.
func ParseAll(raw []string) (parsed []Number, skipped []string) {
	for _, s := range raw {
		n, err := Parse(s)
		if err != nil {
			skipped = append(skipped, s)
			continue
		}
		parsed = append(parsed, n)
	}
	sort.Slice(parsed, func(i, j int) bool { return parsed[j].After(parsed[i]) })
	return parsed, skipped
}
