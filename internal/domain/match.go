package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FixtureTimeLayout is the locale format fixtures arrive in.
const FixtureTimeLayout = "02/01/2006 15:04"

// Fixture is a scheduled contest as supplied by the external schedule
// collaborator. Fields may be sparsely populated depending on the
// upstream feed.
type Fixture struct {
	ID         string `json:"id"`
	Court      string `json:"court"` // display label, "Court {n}"
	Time       string `json:"time"`  // dd/MM/yyyy HH:mm
	Division   string `json:"division"`
	HomeTeamID string `json:"home_team_id"`
	AwayTeamID string `json:"away_team_id"`
	HomeTeam   string `json:"home_team"`
	AwayTeam   string `json:"away_team"`
}

// CourtNumber parses the numeric court out of the display label.
// Returns 0 when the label carries no number.
func (f Fixture) CourtNumber() int {
	return parseCourtNumber(f.Court)
}

// CachedMatch is a locally persisted copy of a fixture or in-progress
// match. It is never authoritative; remote data supersedes it whenever
// the network is reachable. Entries age out after 14 days.
type CachedMatch struct {
	ID          string    `json:"id"`
	CourtNumber int       `json:"court_number"`
	Court       string    `json:"court"` // display label, kept alongside the number for resilient filtering
	Time        string    `json:"time"`  // dd/MM/yyyy HH:mm
	StartTime   time.Time `json:"start_time"`
	Division    string    `json:"division"`
	HomeTeamID  string    `json:"home_team_id"`
	AwayTeamID  string    `json:"away_team_id"`
	HomeTeam    string    `json:"home_team"`
	AwayTeam    string    `json:"away_team"`
	MatchCode   string    `json:"match_code"`
	CachedAt    time.Time `json:"cached_at"`
}

// MapFixture converts a Fixture into the CachedMatch schema, applying
// required-field defaults at the boundary. An absent fixture id is
// synthesized from date and court so offline lookups stay keyed.
func MapFixture(f Fixture, now time.Time) CachedMatch {
	court := parseCourtNumber(f.Court)
	start, err := time.ParseInLocation(FixtureTimeLayout, f.Time, time.Local)
	if err != nil {
		start = now
	}
	id := f.ID
	if id == "" {
		id = fmt.Sprintf("%s-court%d", start.Format("20060102-1504"), court)
	}
	home := f.HomeTeam
	if home == "" {
		home = PlaceholderHomeTeam
	}
	away := f.AwayTeam
	if away == "" {
		away = PlaceholderAwayTeam
	}
	return CachedMatch{
		ID:          id,
		CourtNumber: court,
		Court:       f.Court,
		Time:        f.Time,
		StartTime:   start,
		Division:    f.Division,
		HomeTeamID:  f.HomeTeamID,
		AwayTeamID:  f.AwayTeamID,
		HomeTeam:    home,
		AwayTeam:    away,
		MatchCode:   MatchCode(court, start, home, away),
		CachedAt:    now,
	}
}

// Match is the remote store's own record of a contest, created lazily
// from a Fixture the first time a court is opened for it.
type Match struct {
	ID        string
	MatchCode string
	Court     int
	StartTime time.Time
	Division  string
	HomeTeam  string
	AwayTeam  string
}

// MatchScore is the remote per-match score record.
type MatchScore struct {
	MatchID       string
	HomeScores    []int
	AwayScores    []int
	Summary       ScoreSummary
	HasFinalScore bool
	UpdatedAt     time.Time
}

// Placeholder team names used when a name cannot be recovered.
const (
	PlaceholderHomeTeam = "Home Team"
	PlaceholderAwayTeam = "Away Team"
)

const offlineIDPrefix = "offline-"

// IsOfflineMatchID reports whether the id was synthesized on-device
// for a match created entirely offline.
func IsOfflineMatchID(id string) bool {
	return strings.HasPrefix(id, offlineIDPrefix)
}

// SynthesizeOfflineMatchID builds a locally unique match id carrying
// enough scheduling detail to reconstruct the match remotely later.
func SynthesizeOfflineMatchID(court int, home, away string, at time.Time) string {
	return fmt.Sprintf("%scourt%d-%s-vs-%s-%d", offlineIDPrefix, court, home, away, at.UnixMilli())
}

// ParseOfflineMatchID recovers court and team names from a synthesized
// offline id. This is a best-effort heuristic: team names containing
// the "-vs-" delimiter mis-split, in which case placeholders are
// returned for both sides.
func ParseOfflineMatchID(id string) (court int, home, away string, ok bool) {
	home, away = PlaceholderHomeTeam, PlaceholderAwayTeam
	if !IsOfflineMatchID(id) {
		return 0, home, away, false
	}
	rest := strings.TrimPrefix(id, offlineIDPrefix)
	if !strings.HasPrefix(rest, "court") {
		return 0, home, away, false
	}
	rest = strings.TrimPrefix(rest, "court")
	dash := strings.Index(rest, "-")
	if dash < 0 {
		return 0, home, away, false
	}
	court, err := strconv.Atoi(rest[:dash])
	if err != nil {
		return 0, home, away, false
	}
	rest = rest[dash+1:]

	// Strip the trailing timestamp segment.
	lastDash := strings.LastIndex(rest, "-")
	if lastDash < 0 {
		return court, home, away, false
	}
	if _, err := strconv.ParseInt(rest[lastDash+1:], 10, 64); err != nil {
		return court, home, away, false
	}
	rest = rest[:lastDash]

	parts := strings.SplitN(rest, "-vs-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return court, home, away, false
	}
	return court, parts[0], parts[1], true
}

func parseCourtNumber(label string) int {
	digits := strings.TrimFunc(label, func(r rune) bool {
		return r < '0' || r > '9'
	})
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}
