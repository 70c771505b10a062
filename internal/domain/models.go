// Package domain defines the song request record and the pure logic that
// operates on the stored list: duplicate detection, sequence-code assignment,
// and the JSON codec for the file kept in the remote repository.
package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/pretty"
	"golang.org/x/text/cases"
)

// SongRequest is one accepted request, stored as an element of the JSON array
// in the repository file. Records are immutable once written; the list is
// append-only from this service's point of view.
//
// Fields:
//   - Title / Artist: trimmed, non-empty strings as submitted.
//   - Code: 5-digit zero-padded sequence number, unique across the list.
//   - CreatedAt: assignment time in RFC 3339. Kept as a string so records
//     hand-edited into the file with unusual timestamps survive a round trip.
type SongRequest struct {
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	Code      string `json:"code"`
	CreatedAt string `json:"created_at"`
}

// NewSongRequest builds a record with trimmed fields and the given code,
// stamped at now (UTC).
func NewSongRequest(title, artist, code string, now time.Time) SongRequest {
	return SongRequest{
		Title:     strings.TrimSpace(title),
		Artist:    strings.TrimSpace(artist),
		Code:      code,
		CreatedAt: now.UTC().Format(time.RFC3339),
	}
}

// foldKey normalizes a value for duplicate comparison: trimmed and Unicode
// case-folded (folding handles cases ToLower misses, e.g. İ and ß).
func foldKey(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// Matches reports whether the record has the same title and artist as the
// candidate under case-insensitive, trimmed comparison.
func (r SongRequest) Matches(title, artist string) bool {
	return foldKey(r.Title) == foldKey(title) && foldKey(r.Artist) == foldKey(artist)
}

// FindDuplicate returns the first record matching (title, artist), or nil.
func FindDuplicate(list []SongRequest, title, artist string) *SongRequest {
	for i := range list {
		if list[i].Matches(title, artist) {
			return &list[i]
		}
	}
	return nil
}

// nonDigitRE strips everything but decimal digits from a stored code.
var nonDigitRE = regexp.MustCompile(`\D+`)

// codeNumber extracts the numeric portion of a code. Malformed codes report
// ok=false and are ignored by NextCode rather than treated as errors.
func codeNumber(code string) (int, bool) {
	digits := nonDigitRE.ReplaceAllString(code, "")
	if digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

// NextCode assigns the next sequence code: one more than the maximum numeric
// value parseable from existing codes (0 if none parse), zero-padded to five
// digits. Codes are never reused even if earlier records were removed
// out-of-band; this service does not renumber.
func NextCode(list []SongRequest) string {
	max := 0
	for _, r := range list {
		if n, ok := codeNumber(r.Code); ok && n > max {
			max = n
		}
	}
	return fmt.Sprintf("%05d", max+1)
}

// DecodeList parses the stored file content into a request list.
//
// The file is hand-editable, so decoding is deliberately lenient: healing to
// an empty list happens only when the top level is not a JSON array at all
// (unparseable text, an object, null). Within an array, off-shape field
// values are coerced to strings, and only elements that are not objects are
// dropped. A non-nil warning accompanies anything healed or coerced so the
// caller can log it; the surviving records are always returned alongside.
// Empty content is a normal empty list.
func DecodeList(raw []byte) ([]SongRequest, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return []SongRequest{}, nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return []SongRequest{}, fmt.Errorf("stored content is not a song request array: %w", err)
	}
	if elems == nil {
		// JSON "null" parses fine but is not an array.
		return []SongRequest{}, fmt.Errorf("stored content is null")
	}

	list := make([]SongRequest, 0, len(elems))
	var warn error
	for i, e := range elems {
		var lr looseRecord
		if err := json.Unmarshal(e, &lr); err != nil {
			warn = fmt.Errorf("element %d is not a song request object: %w", i, err)
			continue
		}
		list = append(list, SongRequest{
			Title:     coerceString(lr.Title),
			Artist:    coerceString(lr.Artist),
			Code:      coerceString(lr.Code),
			CreatedAt: coerceString(lr.CreatedAt),
		})
	}
	return list, warn
}

// looseRecord tolerates hand-edited field types (a numeric code, a bare
// timestamp) so one odd element cannot invalidate the whole list.
type looseRecord struct {
	Title     any `json:"title"`
	Artist    any `json:"artist"`
	Code      any `json:"code"`
	CreatedAt any `json:"created_at"`
}

// coerceString renders a decoded JSON value as the string the record field
// expects: strings pass through, null and missing become "", numbers render
// without an exponent where possible.
func coerceString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

// EncodeList serializes the list as pretty-printed JSON with two-space
// indentation, matching the formatting already present in the stored file.
// A nil list encodes as an empty array.
func EncodeList(list []SongRequest) []byte {
	if list == nil {
		list = []SongRequest{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		// Lists of plain string structs cannot fail to marshal.
		panic(err)
	}
	return pretty.PrettyOptions(b, &pretty.Options{Indent: "  "})
}
