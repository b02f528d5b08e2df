package domain

// Geo represents a WGS-84 latitude/longitude coordinate pair.
type Geo struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// GeocodePlace is one result of a free-text place lookup. Every field is
// optional; the lookup layer forwards and caches places without reading them.
type GeocodePlace struct {
	Name     string `json:"name,omitempty"`
	Address  string `json:"address,omitempty"`
	Location *Geo   `json:"location,omitempty"`
	Phone    string `json:"phone,omitempty"`
	URL      string `json:"url,omitempty"`
}
