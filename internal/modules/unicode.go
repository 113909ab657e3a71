package modules

import (
	"strings"

	"golang.org/x/text/encoding/unicode"

	"github.com/nao1215/dumpscan/internal/vmem"
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// decodeUTF16 converts UTF-16LE bytes to a string, stopping at the first
// NUL. An odd trailing byte is dropped.
func decodeUTF16(b []byte) string {
	b = b[:len(b)&^1]
	for i := 0; i+1 < len(b); i += 2 {
		if b[i] == 0 && b[i+1] == 0 {
			b = b[:i]
			break
		}
	}
	s, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(s))
}

// readUnicodeString reads the buffer of us, truncated to maxBytes.
func readUnicodeString(tr *vmem.Translator, us unicodeString, maxBytes int) (string, error) {
	if us.Length == 0 || us.Buffer == 0 {
		return "", nil
	}
	n := min(int(us.Length), maxBytes) &^ 1
	if n == 0 {
		return "", nil
	}
	raw, err := tr.ReadVirtual(us.Buffer, n)
	if err != nil {
		return "", err
	}
	return decodeUTF16(raw), nil
}
