package position

import (
	"unicode/utf8"
)

/*
LEARNING: BYTE OFFSETS VS CHARACTER INDEXES

The wire protocol addresses the document by UTF-8 byte offset, while the
content handle (textdoc.Doc) addresses it by character (rune) index.

  "héllo"   bytes:  h=0 é=1,2 l=3 l=4 o=5   (len 6)
            chars:  h=0 é=1   l=2 l=3 o=4   (count 5)

Offset 2 lands inside "é". Every function here sanitizes instead of
failing: out-of-range offsets clamp to len(s), mid-character offsets move
back to the start of that character.
*/

// BoundarySafe returns pos clamped to [0, len(s)] and moved backward to
// the nearest character boundary.
func BoundarySafe(s string, pos int) int {
	if pos <= 0 {
		return 0
	}
	if pos >= len(s) {
		return len(s)
	}
	for pos > 0 && !utf8.RuneStart(s[pos]) {
		pos--
	}
	return pos
}

// CharIndex returns the number of whole characters before the
// boundary-safe form of pos.
func CharIndex(s string, pos int) int {
	return utf8.RuneCountInString(s[:BoundarySafe(s, pos)])
}

// CharSpan translates the byte range [start, end) into a character index
// and character count. Both ends are sanitized and end never precedes start.
func CharSpan(s string, start, end int) (charStart, charCount int) {
	start = BoundarySafe(s, start)
	end = BoundarySafe(s, end)
	if end < start {
		end = start
	}
	return utf8.RuneCountInString(s[:start]), utf8.RuneCountInString(s[start:end])
}

// DeleteRange clamps a Delete{pos, length} request against s and returns
// the boundary-safe byte range it covers. The range is empty when there is
// nothing to delete.
func DeleteRange(s string, pos, length int) (start, end int) {
	start = BoundarySafe(s, pos)
	if length <= 0 {
		return start, start
	}
	// Guard the addition against overflow on absurd lengths.
	target := len(s)
	if length < len(s)-start {
		target = start + length
	}
	end = BoundarySafe(s, target)
	if end < start {
		end = start
	}
	return start, end
}

// PrevBoundary returns the boundary of the character before pos.
func PrevBoundary(s string, pos int) int {
	pos = BoundarySafe(s, pos)
	if pos == 0 {
		return 0
	}
	_, size := utf8.DecodeLastRuneInString(s[:pos])
	return pos - size
}

// NextBoundary returns the boundary of the character after pos.
func NextBoundary(s string, pos int) int {
	pos = BoundarySafe(s, pos)
	if pos >= len(s) {
		return len(s)
	}
	_, size := utf8.DecodeRuneInString(s[pos:])
	return pos + size
}

// LineCol reports the zero-based line and character column of pos.
func LineCol(s string, pos int) (line, col int) {
	for _, r := range s[:BoundarySafe(s, pos)] {
		if r == '\n' {
			line++
			col = 0
			continue
		}
		col++
	}
	return line, col
}

// ShiftForInsert moves a byte cursor past text inserted at or before it.
func ShiftForInsert(cursor, pos, insertedLen int) int {
	if pos <= cursor {
		return cursor + insertedLen
	}
	return cursor
}

// ShiftForDelete pulls a byte cursor back by the part of [pos, pos+length)
// that lay before it.
func ShiftForDelete(cursor, pos, length int) int {
	if pos >= cursor || length <= 0 {
		return cursor
	}
	return cursor - min(cursor-pos, length)
}
