package storage

import (
	"fmt"
	"strings"
	"unicode"
)

// SanitizeFilename folds a file name to printable ASCII so it can be carried
// in a Content-Disposition header. Accented Latin letters lose their
// diacritics; quotes, backslashes and every other rune become '-'.
func SanitizeFilename(filename string) string {
	var b strings.Builder
	b.Grow(len(filename))

	for _, r := range filename {
		switch {
		case r == '"' || r == '\\':
			b.WriteRune('-')
		case r < unicode.MaxASCII && unicode.IsPrint(r):
			b.WriteRune(r)
		default:
			b.WriteRune(foldLatin(r))
		}
	}
	return b.String()
}

// ContentDisposition returns an attachment disposition naming filename.
func ContentDisposition(filename string) string {
	return fmt.Sprintf("attachment; filename=\"%s\"", SanitizeFilename(filename))
}

func foldLatin(r rune) rune {
	switch {
	case r >= 'À' && r <= 'Å':
		return 'A'
	case r >= 'à' && r <= 'å':
		return 'a'
	case r >= 'È' && r <= 'Ë':
		return 'E'
	case r >= 'è' && r <= 'ë':
		return 'e'
	case r >= 'Ì' && r <= 'Ï':
		return 'I'
	case r >= 'ì' && r <= 'ï':
		return 'i'
	case r >= 'Ò' && r <= 'Ö':
		return 'O'
	case r >= 'ò' && r <= 'ö':
		return 'o'
	case r >= 'Ù' && r <= 'Ü':
		return 'U'
	case r >= 'ù' && r <= 'ü':
		return 'u'
	case r == 'Ç':
		return 'C'
	case r == 'ç':
		return 'c'
	case r == 'Ñ':
		return 'N'
	case r == 'ñ':
		return 'n'
	default:
		return '-'
	}
}
