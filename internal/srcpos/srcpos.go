// Package srcpos converts byte offsets in DSL source text into 1-based
// line/column positions for diagnostics.
package srcpos

// At returns the 1-based line and column of the byte offset within src.
// Offsets past the end of src report the position just after the last byte.
func At(src string, offset int) (line, column int) {
	if offset < 0 {
		offset = 0
	}
	if offset > len(src) {
		offset = len(src)
	}
	line, column = 1, 1
	for i := 0; i < offset; i++ {
		if src[i] == '\n' {
			line++
			column = 1
		} else {
			column++
		}
	}
	return line, column
}
