package logparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"scoreboard/internal/crawl"
	"scoreboard/internal/store"
)

// Normalize turns a parsed field map into a game record. It returns
// (nil, nil) for records the scoreboard does not track: missing start
// timestamp, missing version, or a non-vanilla game variant. These are
// expected data shapes, not errors. An error means the record claimed
// to be valid but carried corrupt data.
func Normalize(f Fields, src string) (*store.Game, error) {
	if !f.Has("start") || !f.Has("v") || !f.Has("lv") {
		return nil, nil
	}
	// Only vanilla crawl is scored; sprint/zotdef logs carry their own
	// logfile version tag.
	if f.String("lv") != "0.1" {
		return nil, nil
	}
	if crawl.NonVanillaTags[f.String("type")] {
		return nil, nil
	}

	name := f.String("name")
	if name == "" {
		return nil, nil
	}

	char := f.String("char")
	if len(char) != 4 {
		return nil, fmt.Errorf("logparse: bad char code %q", char)
	}

	rawStart := f.String("start")
	start, err := ParseCrawlDate(rawStart)
	if err != nil {
		return nil, fmt.Errorf("logparse: start: %w", err)
	}
	end, err := ParseCrawlDate(f.String("end"))
	if err != nil {
		return nil, fmt.Errorf("logparse: end: %w", err)
	}

	god := f.String("god")
	if god == "" {
		god = "Atheist"
	}
	god = fixup(crawl.GodNameFixups, god)

	g := &store.Game{
		// The gid uses the raw start value so it stays byte-for-byte
		// compatible with Sequell's game ids.
		GID:         name + ":" + src + ":" + rawStart,
		Player:      name,
		Source:      src,
		Version:     simplifyVersion(f.String("v")),
		Species:     fixup(crawl.SpeciesCodeFixups, char[:2]),
		SpeciesName: fixup(crawl.SpeciesNameFixups, f.String("race")),
		Background:  fixup(crawl.BackgroundCodeFixups, char[2:]),
		God:         god,
		Branch:      fixup(crawl.BranchCodeFixups, f.String("br")),
		XL:          int(f.IntOr("xl", 0)),
		AC:          int(f.IntOr("ac", 0)),
		EV:          int(f.IntOr("ev", 0)),
		SH:          int(f.IntOr("sh", 0)),
		Turns:       int(f.IntOr("turn", 0)),
		Duration:    int(f.IntOr("dur", 0)),
		Runes:       int(f.IntOr("urune", 0)),
		Score:       f.IntOr("sc", 0),
		Start:       start,
		End:         end,
		PotionsUsed: int(f.IntOr("potionsused", store.SentinelMissing)),
		ScrollsUsed: int(f.IntOr("scrollsused", store.SentinelMissing)),
		ZigDeepest:  int(f.IntOr("zigdeepest", 0)),
		TMsg:        f.String("tmsg"),
		Ktyp:        fixup(crawl.KtypFixups, f.String("ktyp")),
	}
	if g.Ktyp == "" {
		return nil, fmt.Errorf("logparse: missing ktyp in %s", g.GID)
	}
	return g, nil
}

func fixup(table map[string]string, v string) string {
	if canonical, ok := table[v]; ok {
		return canonical
	}
	return v
}

// simplifyVersion reduces a full version string to its series, e.g.
// "0.17.1-8-gd4f2f23" to "0.17".
func simplifyVersion(v string) string {
	rest, ok := strings.CutPrefix(v, "0.")
	if !ok {
		return v
	}
	for i := 0; i < len(rest); i++ {
		if rest[i] < '0' || rest[i] > '9' {
			return "0." + rest[:i]
		}
	}
	return "0." + rest
}

// ParseCrawlDate decodes crawl's fixed-width YYYYMMDDHHMMSS timestamps.
// The month field is zero-indexed (blame struct tm), so it is
// incremented before parsing. A trailing marker letter ("S") is
// tolerated.
func ParseCrawlDate(d string) (time.Time, error) {
	if len(d) > 14 {
		d = d[:14]
	}
	if len(d) != 14 || !isDigits(d) {
		return time.Time{}, fmt.Errorf("bad crawl date %q", d)
	}
	num := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}
	year := num(d[0:4])
	month := num(d[4:6]) + 1
	day := num(d[6:8])
	if month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("bad crawl date month %q", d)
	}
	return time.Date(year, time.Month(month), day,
		num(d[8:10]), num(d[10:12]), num(d[12:14]), 0, time.UTC), nil
}
