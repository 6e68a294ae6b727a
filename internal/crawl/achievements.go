package crawl

// AchievementKind selects the generic rule the scoring engine applies for
// an achievement. There is deliberately no per-achievement code path.
type AchievementKind int

const (
	// KindCoverGods awards once a player has a win under every playable god.
	KindCoverGods AchievementKind = iota
	// KindCoverSpecies awards once every playable species has a win.
	KindCoverSpecies
	// KindCoverBackgrounds awards once every playable background has a win.
	KindCoverBackgrounds
	// KindWinCount awards at a total win threshold.
	KindWinCount
	// KindPerWinCounter counts qualifying wins (repeatable, stored as a
	// counter rather than a boolean).
	KindPerWinCounter
)

// Achievement is one entry of the declarative achievement catalog.
type Achievement struct {
	Key         string
	Name        string
	Description string
	Kind        AchievementKind

	// Threshold applies to KindWinCount.
	Threshold int
	// Requires gates the award on another achievement key already held.
	Requires string
	// Counter predicate id for KindPerWinCounter, matched by the engine.
	Predicate string
}

// Catalog is the full achievement table consumed by the scoring engine.
var Catalog = []Achievement{
	{
		Key:         "polytheist",
		Name:        "Polytheist",
		Description: "Won a game under every god.",
		Kind:        KindCoverGods,
	},
	{
		Key:         "greatplayer",
		Name:        "Great Player",
		Description: "Won a game with every species.",
		Kind:        KindCoverSpecies,
	},
	{
		Key:         "greaterplayer",
		Name:        "Greater Player",
		Description: "Won a game with every species and every background.",
		Kind:        KindCoverBackgrounds,
		Requires:    "greatplayer",
	},
	{
		Key:         "goodplayer",
		Name:        "Good Player",
		Description: "Won ten games.",
		Kind:        KindWinCount,
		Threshold:   10,
	},
	{
		Key:         "centuryplayer",
		Name:        "Century Player",
		Description: "Won one hundred games.",
		Kind:        KindWinCount,
		Threshold:   100,
	},
	{
		Key:         "no_potion_or_scroll_win",
		Name:        "Abstemious",
		Description: "Won without using any potions or scrolls.",
		Kind:        KindPerWinCounter,
		Predicate:   "no_consumables",
	},
	{
		Key:         "cleared_zig",
		Name:        "Ziggurat Raider",
		Description: "Won after clearing all 27 Ziggurat floors.",
		Kind:        KindPerWinCounter,
		Predicate:   "cleared_zig",
	},
}
