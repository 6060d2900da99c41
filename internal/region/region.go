// Package region carries the per-jurisdiction lookup tables the pipeline
// needs: country name normalization, the conventional administrative
// depth of municipal boundaries by country, and locale-aware alternate
// spellings for city names.
package region

import "strings"

// NormalizeCountry lowercases, trims and resolves common aliases so the
// rest of the pipeline keys on one canonical country name.
func NormalizeCountry(country string) string {
	c := strings.ToLower(strings.TrimSpace(country))
	if alias, ok := countryAliases[c]; ok {
		return alias
	}
	return c
}

var countryAliases = map[string]string{
	"usa":     "united states",
	"us":      "united states",
	"america": "united states",
	"uk":      "united kingdom",
	"britain": "united kingdom",
	"korea":   "south korea",
	"czechia": "czech republic",
	"holland": "netherlands",
	"uae":     "united arab emirates",
}

// DefaultAdminLevels is the admin-level preference used for countries
// with no specific entry. Most municipal boundaries sit at level 8, a few
// at 7.
var DefaultAdminLevels = []int{8, 7}

// AdminLevels returns the admin-level preference for a country's
// municipal boundaries, most specific first. East Asian jurisdictions
// often sit shallower than the European default.
func AdminLevels(country string) []int {
	if levels, ok := adminLevels[NormalizeCountry(country)]; ok {
		return levels
	}
	return DefaultAdminLevels
}

var adminLevels = map[string][]int{
	// Europe: municipal boundaries at level 8.
	"germany":        {8},
	"france":         {8},
	"spain":          {8},
	"italy":          {8},
	"poland":         {8},
	"czech republic": {8},
	"austria":        {8},
	"switzerland":    {8},
	"belgium":        {8},
	"netherlands":    {8},
	"sweden":         {8},
	"norway":         {8},
	"finland":        {8},
	"denmark":        {8},
	"united kingdom": {8},
	"portugal":       {8},
	"greece":         {8},
	"turkey":         {8},
	"ireland":        {8},

	// Asia: often one or two levels shallower.
	"japan":       {8, 7},
	"south korea": {7, 6},
	"china":       {7, 6},
	"taiwan":      {7, 6},
	"thailand":    {7, 6},
	"malaysia":    {8},
	"singapore":   {4}, // city-state
	"hong kong":   {5, 4},

	// Americas and Oceania.
	"brazil":      {8},
	"australia":   {8},
	"new zealand": {8},

	// Africa and Middle East.
	"south africa":         {8},
	"qatar":                {8},
	"united arab emirates": {8},
}

// LocalName returns the local-language spelling for a city when OSM tags
// it differently from the common English name. The English name is
// always tried as well via the name:en tag.
func LocalName(city string) (string, bool) {
	local, ok := localNames[strings.ToLower(strings.TrimSpace(city))]
	return local, ok
}

var localNames = map[string]string{
	// German-speaking cities
	"munich":    "München",
	"cologne":   "Köln",
	"nuremberg": "Nürnberg",
	"vienna":    "Wien",

	// Italy
	"milan":    "Milano",
	"naples":   "Napoli",
	"florence": "Firenze",
	"rome":     "Roma",

	// Iberia
	"seville": "Sevilla",
	"lisbon":  "Lisboa",

	// Poland and Czech Republic
	"warsaw": "Warszawa",
	"krakow": "Kraków",
	"gdansk": "Gdańsk",
	"prague": "Praha",

	// Scandinavia and Benelux
	"gothenburg": "Göteborg",
	"copenhagen": "København",
	"the hague":  "Den Haag",
	"brussels":   "Bruxelles",

	// Greece
	"athens": "Αθήνα",
}
