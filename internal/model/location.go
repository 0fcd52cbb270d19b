package model

import "strings"

// Location is a place preference or a posting place. The zero value is unknown.
type Location struct {
	Known  bool   `json:"known"`
	City   string `json:"city,omitempty"`
	Region string `json:"region,omitempty"`
	Remote bool   `json:"remote,omitempty"`
}

// UnknownLocation is the explicit absence of a location signal.
var UnknownLocation = Location{}

// RemoteLocation is a remote-only preference or a remote posting.
var RemoteLocation = Location{Known: true, Remote: true}

// NewLocation normalizes a city name and resolves its region. Empty input is unknown.
func NewLocation(city string, remote bool) Location {
	name := NormalizeCity(city)
	if name == "" && !remote {
		return UnknownLocation
	}
	return Location{
		Known:  true,
		City:   name,
		Region: RegionOf(name),
		Remote: remote,
	}
}

var cityAliases = map[string]string{
	"msk":             "москва",
	"moscow":          "москва",
	"мск":             "москва",
	"spb":             "санкт-петербург",
	"спб":             "санкт-петербург",
	"питер":           "санкт-петербург",
	"petersburg":      "санкт-петербург",
	"st. petersburg":  "санкт-петербург",
	"ekaterinburg":    "екатеринбург",
	"yekaterinburg":   "екатеринбург",
	"novosibirsk":     "новосибирск",
	"kazan":           "казань",
	"nizhny novgorod": "нижний новгород",
}

var cityRegions = map[string]string{
	"москва":          "central",
	"зеленоград":      "central",
	"химки":           "central",
	"мытищи":          "central",
	"подольск":        "central",
	"балашиха":        "central",
	"королев":         "central",
	"тула":            "central",
	"санкт-петербург": "northwest",
	"колпино":         "northwest",
	"пушкин":          "northwest",
	"гатчина":         "northwest",
	"екатеринбург":    "ural",
	"челябинск":       "ural",
	"тюмень":          "ural",
	"новосибирск":     "siberia",
	"омск":            "siberia",
	"томск":           "siberia",
	"красноярск":      "siberia",
	"казань":          "volga",
	"нижний новгород": "volga",
	"самара":          "volga",
	"уфа":             "volga",
	"краснодар":       "south",
	"ростов-на-дону":  "south",
	"сочи":            "south",
}

// NormalizeCity lowercases, trims and resolves well-known aliases.
func NormalizeCity(city string) string {
	name := strings.ToLower(strings.TrimSpace(city))
	name = strings.Trim(name, ".,;")
	name = strings.TrimPrefix(name, "г. ")
	name = strings.ReplaceAll(name, "ё", "е")
	if alias, ok := cityAliases[name]; ok {
		return alias
	}
	return name
}

// RegionOf returns the region of a normalized city, or "" when it is not listed.
func RegionOf(city string) string {
	return cityRegions[city]
}
