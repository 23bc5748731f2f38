// Package source models the accumulated C program as an ordered list of lines.
package source

import (
	"os"
	"slices"
	"strings"
)

// Document is the full text of the accumulated program, one entry per line.
// A trailing newline in the input text shows up as a trailing empty line,
// so Split and String round-trip byte for byte.
type Document []string

// Split breaks text into lines on '\n' without trimming anything.
func Split(text string) Document {
	return Document(strings.Split(text, "\n"))
}

// String joins the lines back with '\n'.
func (d Document) String() string {
	return strings.Join(d, "\n")
}

// Bytes returns the document as it is written to disk.
func (d Document) Bytes() []byte {
	return []byte(d.String())
}

// Clone returns an independent copy.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return slices.Clone(d)
}

// Equal reports whether both documents have identical lines.
func (d Document) Equal(other Document) bool {
	return slices.Equal(d, other)
}

// Len returns the number of lines.
func (d Document) Len() int {
	return len(d)
}

// Load reads a document from disk, dropping a UTF-8 BOM and normalising CRLF.
func Load(path string) (Document, error) {
	// #nosec G304 -- path comes from session configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data, _ = removeBOM(data)
	data, _ = normalizeCRLF(data)
	return Split(string(data)), nil
}

// normalizeCRLF заменяет все \r\n на \n, не трогая одиночные \r.
// Возвращает новый слайс и флаг: были ли замены.
func normalizeCRLF(content []byte) ([]byte, bool) {
	if !slices.Contains(content, '\r') {
		return content, false
	}

	out := make([]byte, 0, len(content))
	changed := false

	i := 0
	for i < len(content) {
		if content[i] == '\r' && i+1 < len(content) && content[i+1] == '\n' {
			out = append(out, '\n')
			i += 2
			changed = true
		} else {
			out = append(out, content[i])
			i++
		}
	}
	return out, changed
}

func removeBOM(content []byte) ([]byte, bool) {
	if len(content) < 3 {
		return content, false
	}

	if content[0] == 0xEF && content[1] == 0xBB && content[2] == 0xBF {
		return content[3:], true
	}

	return content, false
}
