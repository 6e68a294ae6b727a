// Package crawl holds static DCSS game data: the playable sets used as
// denominators for cover-all achievements, historical fixup tables, and
// curated player lists.
package crawl

// Playable species short codes. Used as the denominator for the
// greatplayer achievement.
var PlayableSpecies = map[string]bool{
	"Ce": true, "DD": true, "DE": true, "Dg": true, "Dr": true, "Ds": true,
	"Fe": true, "Fo": true, "Gh": true, "Gr": true, "HE": true, "HO": true,
	"Ha": true, "Hu": true, "Ko": true, "Mf": true, "Mi": true, "Mu": true,
	"Na": true, "Op": true, "Og": true, "Sp": true, "Te": true, "Tr": true,
	"VS": true, "Vp": true,
}

// Playable background short codes. Denominator for greaterplayer.
var PlayableBackgrounds = map[string]bool{
	"AE": true, "AK": true, "AM": true, "Ar": true, "As": true, "Be": true,
	"CK": true, "Cj": true, "EE": true, "En": true, "FE": true, "Fi": true,
	"Gl": true, "Hu": true, "IE": true, "Mo": true, "Ne": true, "Sk": true,
	"Su": true, "Tm": true, "VM": true, "Wn": true, "Wr": true, "Wz": true,
}

// Playable gods, including Atheist for godless wins. Denominator for
// polytheist.
var PlayableGods = map[string]bool{
	"Ashenzari": true, "Atheist": true, "Beogh": true, "Cheibriados": true,
	"Dithmenos": true, "Elyvilon": true, "Fedhas": true, "Gozag": true,
	"Jiyva": true, "Kikubaaqudgha": true, "Lugonu": true, "Makhleb": true,
	"Nemelex Xobeh": true, "Okawaru": true, "Pakellas": true, "Qazlal": true,
	"Ru": true, "Sif Muna": true, "The Shining One": true, "Trog": true,
	"Vehumet": true, "Xom": true, "Yredelemnul": true, "Zin": true,
}

// GodNameFixups maps historical or in-game god spellings to their
// canonical names. The in-game name is 'the Shining One' but the
// scoreboard capitalises it.
var GodNameFixups = map[string]string{
	"the Shining One": "The Shining One",
	"Dithmengos":      "Dithmenos", // old name
}

// SpeciesCodeFixups maps retired species short codes to their modern
// equivalents.
var SpeciesCodeFixups = map[string]string{
	"Ke": "Te", // Kenku became Tengu in 0.11
	"Gn": "DD", // early Gnome logs were folded into Deep Dwarf data
}

// BackgroundCodeFixups maps retired background short codes to their
// modern equivalents.
var BackgroundCodeFixups = map[string]string{
	"Cr": "Sk", // Crusader became Skald in 0.12
	"Am": "As", // Assassin's original short code
}

// SpeciesNameFixups normalises full species names that changed spelling
// across versions.
var SpeciesNameFixups = map[string]string{
	"Grey Draconian":  "Gray Draconian",
	"Yellow Dracnian": "Yellow Draconian", // 0.10 logfile typo
}

// BranchCodeFixups maps renamed branch short codes.
var BranchCodeFixups = map[string]string{
	"Shoal": "Shoals",
	"Vault": "Vaults",
}

// KtypFixups maps end-reason spellings seen in old logfiles to their
// canonical forms.
var KtypFixups = map[string]string{
	"winning.": "winning",
	"left":     "leaving",
	"quit":     "quitting",
}

// NonVanillaTags are game-variant tags whose games are never scored.
var NonVanillaTags = map[string]bool{
	"sprint":           true,
	"zotdef":           true,
	"explbr":           true,
	"nostalgia-sprint": true,
}

// BotAccounts are known bot accounts (name:source keys use lowercase
// names). Their games are ingested but never scored.
var BotAccounts = map[string]bool{
	"autorobin": true, "xw": true, "auto7hm": true, "rw": true, "qw": true,
	"ow": true, "qwrobin": true, "gw": true, "notqw": true, "jw": true,
	"parabodrick": true, "hyperqwbe": true, "cashybrid": true,
	"tstbtto": true, "parabolic": true, "oppbolic": true, "ew": true,
	"rushxxi": true, "gaubot": true, "cojitobot": true,
	"paulcdejean": true, "otabotab": true, "nakatomy": true,
	"testingqw": true, "beemell": true, "beem": true, "drasked": true,
	"phybot": true,
}

// ManualAchievements are curated awards for events outside the log data,
// keyed by player name.
var ManualAchievements = map[string][]string{
	"comborobin":  {"greatestplayer"},
	"Stabwound":   {"0.4_winner"},
	"78291":       {"0.5_winner"},
	"elliptic":    {"0.7_winner", "0.10_winner"},
	"mikee":       {"0.8_winner"},
	"theglow":     {"0.9_winner", "0.11_winner"},
	"jeanjacques": {"0.12_winner"},
	"bmfx":        {"0.13_winner"},
	"Tolias":      {"0.14_winner", "0.15_winner"},
	"DrKe":        {"0.16_winner"},
	"cosmonaut":   {"0.17_winner"},
}

// MorguePrefixes maps a source to the base URL of its morgue files.
// Sources that keep version-specific morgue directories are handled in
// the export layer; sources absent here have no public morgues.
var MorguePrefixes = map[string]string{
	"cao":  "http://crawl.akrasiac.org/rawdata",
	"cdo":  "http://crawl.develz.org/morgues",
	"cszo": "http://dobrazupa.org/morgue",
	"cue":  "http://underhound.eu:81/crawl/morgue",
	"clan": "http://underhound.eu:81/crawl/morgue",
	"cbro": "http://crawl.berotato.org/crawl/morgue",
	"cxc":  "http://crawl.xtahua.com/crawl/morgue",
	"lld":  "http://lazy-life.ddo.jp:8080/morgue",
	"cpo":  "https://crawl.project357.org/morgue",
	"cjr":  "http://www.jorgrun.rocks/morgue",
	"cwz":  "http://webzook.net/soup/morgue",
}

// VersionedMorgueSources keep their morgues in per-version directories.
var VersionedMorgueSources = map[string]bool{
	"cdo": true,
	"lld": true,
	"cwz": true,
}
