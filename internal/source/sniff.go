package source

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// delimiterCandidates in preference order; ties go to the earlier one.
var delimiterCandidates = []rune{',', ';', '\t', '|'}

// sniffLines is how many lines of the prefix feed dialect detection.
const sniffLines = 50

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// binarySignatures are prefixes of formats that are not delimited text.
var binarySignatures = [][]byte{
	[]byte("PK\x03\x04"), // zip, xlsx, ods
	{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1},
	[]byte("%PDF"),
	{0x1F, 0x8B},
}

// detectEncoding picks the text encoding of prefix. A nil encoding means
// UTF-8, which is read without transformation so invalid bytes can be
// reported per row. bomLen is the length of a UTF-8 byte order mark.
func detectEncoding(prefix []byte, complete bool, override string) (encoding.Encoding, string, int, error) {
	if override != "" {
		enc, err := htmlindex.Get(override)
		if err != nil {
			return nil, "", 0, fmt.Errorf("unknown encoding %q", override)
		}
		name, _ := htmlindex.Name(enc)
		bomLen := 0
		if name == "utf-8" {
			if bytes.HasPrefix(prefix, bomUTF8) {
				bomLen = len(bomUTF8)
			}
			return nil, name, bomLen, nil
		}
		return enc, name, 0, nil
	}

	switch {
	case bytes.HasPrefix(prefix, bomUTF8):
		return nil, "utf-8", len(bomUTF8), nil
	case bytes.HasPrefix(prefix, bomUTF16LE):
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM), "utf-16le", 0, nil
	case bytes.HasPrefix(prefix, bomUTF16BE):
		return unicode.UTF16(unicode.BigEndian, unicode.UseBOM), "utf-16be", 0, nil
	}

	for _, sig := range binarySignatures {
		if bytes.HasPrefix(prefix, sig) {
			return nil, "", 0, fmt.Errorf("binary content is not delimited text")
		}
	}
	if bytes.IndexByte(prefix, 0) >= 0 {
		return nil, "", 0, fmt.Errorf("binary content is not delimited text")
	}

	check := prefix
	if !complete {
		check = trimIncompleteRune(check)
	}
	if utf8.Valid(check) {
		return nil, "utf-8", 0, nil
	}

	// Not UTF-8: the usual origin of such files is a Windows spreadsheet
	// export, which is windows-1252 (a superset of latin-1 for printable
	// characters).
	return charmap.Windows1252, "windows-1252", 0, nil
}

// trimIncompleteRune drops a multi-byte sequence cut by the prefix end.
func trimIncompleteRune(b []byte) []byte {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(b); i++ {
		c := b[len(b)-i]
		if c < 0x80 {
			return b
		}
		if c >= 0xC0 {
			if !utf8.FullRune(b[len(b)-i:]) {
				return b[:len(b)-i]
			}
			return b
		}
	}
	return b
}

// decodePrefix returns the prefix as UTF-8 text. When the prefix is not
// the whole source, the last (probably cut) line is dropped.
func decodePrefix(prefix []byte, enc encoding.Encoding, complete bool) string {
	var text string
	if enc == nil {
		text = string(prefix)
	} else {
		out, _, _ := transform.Bytes(enc.NewDecoder(), prefix)
		text = string(out)
	}
	if !complete {
		if i := strings.LastIndexByte(text, '\n'); i >= 0 {
			text = text[:i+1]
		}
	}
	return text
}

// decodingReader converts r from enc to UTF-8 on the fly.
func decodingReader(r io.Reader, enc encoding.Encoding) io.Reader {
	return transform.NewReader(r, enc.NewDecoder())
}

// sniffLinesOf splits text into at most sniffLines non-blank lines.
func sniffLinesOf(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == sniffLines {
			break
		}
	}
	return lines
}

// countOutsideQuotes counts r in line, ignoring double-quoted sections.
func countOutsideQuotes(line string, r rune) int {
	n := 0
	inQuotes := false
	for _, c := range line {
		switch {
		case c == '"':
			inQuotes = !inQuotes
		case c == r && !inQuotes:
			n++
		}
	}
	return n
}

// sniffDelimiter picks the candidate whose per-line count is the most
// consistent. A candidate that never appears cannot win; when none
// appears the source is single-column and comma is returned.
func sniffDelimiter(text string) rune {
	lines := sniffLinesOf(text)
	if len(lines) == 0 {
		return ','
	}

	best, bestScore, bestMode := ',', 0.0, 0
	for _, cand := range delimiterCandidates {
		freq := make(map[int]int)
		for _, line := range lines {
			freq[countOutsideQuotes(line, cand)]++
		}

		mode, modeLines := 0, 0
		for count, nlines := range freq {
			if nlines > modeLines || (nlines == modeLines && count > mode) {
				mode, modeLines = count, nlines
			}
		}
		if mode == 0 {
			continue
		}

		score := float64(modeLines) / float64(len(lines))
		if score > bestScore || (score == bestScore && mode > bestMode) {
			best, bestScore, bestMode = cand, score, mode
		}
	}
	return best
}

// readPrefixRecords parses the decoded prefix leniently.
func readPrefixRecords(text string, delim rune) [][]string {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records
}

func scanPrefix(records [][]string, complete bool) prefixInfo {
	info := prefixInfo{records: len(records), complete: complete}
	if len(records) > 0 {
		info.first = records[0]
	}
	return info
}

// sniffHeader decides whether the first record is a header by comparing it
// with the records after it, column by column: a column whose values are
// all numeric (or all the same length) votes for a header when the first
// cell differs in kind, and against otherwise. Header presence is the
// default; only a negative vote removes it.
func sniffHeader(records [][]string) bool {
	if len(records) < 2 {
		return true
	}
	first := records[0]
	rest := records[1:]
	if len(rest) > 20 {
		rest = rest[:20]
	}

	votes := 0
	for col := range first {
		numeric, sameLen, length, seen := true, true, -1, 0
		for _, rec := range rest {
			if len(rec) != len(first) {
				continue
			}
			cell := strings.TrimSpace(rec[col])
			seen++
			if !isNumber(cell) {
				numeric = false
			}
			n := utf8.RuneCountInString(cell)
			if length == -1 {
				length = n
			} else if n != length {
				sameLen = false
			}
		}
		if seen == 0 {
			continue
		}

		head := strings.TrimSpace(first[col])
		switch {
		case numeric:
			if isNumber(head) {
				votes--
			} else {
				votes++
			}
		case sameLen:
			if utf8.RuneCountInString(head) == length {
				votes--
			} else {
				votes++
			}
		}
	}
	return votes >= 0
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	return err == nil
}
