package site

import (
	"fmt"

	"github.com/spacetraveling/blog/pkg/post"
)

var ptBRMonths = [...]string{"jan", "fev", "mar", "abr", "mai", "jun", "jul", "ago", "set", "out", "nov", "dez"}

// FormatDate renders a publication date as "02 jan 2006" with Portuguese
// month abbreviations, in UTC. A missing date renders as "".
func FormatDate(ts *post.Timestamp) string {
	if ts == nil || ts.IsZero() {
		return ""
	}
	t := ts.UTC()
	return fmt.Sprintf("%02d %s %d", t.Day(), ptBRMonths[t.Month()-1], t.Year())
}
