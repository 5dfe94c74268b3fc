package schema

import (
	"fmt"
	"strings"
)

// Special date format tokens accepted alongside strptime directives.
const (
	FormatAuto = "auto"
	FormatISO  = "iso"
)

// strptime directives mapped to Go reference layout fragments. Day, month and
// hour map to the non-padded forms because Go parses those leniently (one or
// two digits) the way strptime does.
var directives = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "1",
	'd': "2",
	'e': "_2",
	'B': "January",
	'b': "Jan",
	'h': "Jan",
	'A': "Monday",
	'a': "Mon",
	'H': "15",
	'I': "3",
	'M': "04",
	'S': "05",
	'p': "PM",
	'z': "-0700",
	'Z': "MST",
	'j': "002",
	'F': "2006-1-2",
	'T': "15:04:05",
	'D': "1/2/06",
	'%': "%",
}

// Layout converts a strptime style format (e.g. "%B %d, %Y") into a Go time
// layout. Formats without any directive are taken to be Go layouts already.
// FormatAuto and FormatISO return an empty layout.
func Layout(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "":
		return "", fmt.Errorf("empty format")
	case FormatAuto, FormatISO:
		return "", nil
	}
	if !strings.Contains(format, "%") {
		return format, nil
	}

	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(format) {
			return "", fmt.Errorf("dangling %% at end of format")
		}
		i++
		d := format[i]
		// glibc "%-d" style padding flags change nothing for parsing
		if (d == '-' || d == '#') && i+1 < len(format) {
			i++
			d = format[i]
		}
		frag, ok := directives[d]
		if !ok {
			return "", fmt.Errorf("unsupported directive %%%c", d)
		}
		b.WriteString(frag)
	}
	return b.String(), nil
}
