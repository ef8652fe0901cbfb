package domain

import (
	"fmt"
	"strings"
	"time"
)

// MatchCode derives the deterministic dedup key for a match from its
// scheduling inputs. Identical inputs always yield the same code; it
// is the sole idempotent-upsert mechanism against the remote store,
// and the only defense against duplicate match records when a
// submission is retried after a partial failure.
//
// Shape: c{court}-{yyyymmddhhmm}[-{home}-v-{away}] with team names
// slugged to lowercase alphanumerics. The team segment is omitted when
// neither name is known.
func MatchCode(court int, start time.Time, home, away string) string {
	code := fmt.Sprintf("c%d-%s", court, start.Format("200601021504"))
	h, a := slug(home), slug(away)
	if h == "" && a == "" {
		return code
	}
	return fmt.Sprintf("%s-%s-v-%s", code, h, a)
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
