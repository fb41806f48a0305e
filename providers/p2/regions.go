package p2

// StaticRegions is the built-in fallback table of P2 regions with published
// coordinates, consulted by the Location Optimizer when the external
// location-finder service fails (§4.2).
var StaticRegions = []Region{
	{Code: "p2-us-east", Lat: 39.0438, Lon: -77.4874},
	{Code: "p2-us-west", Lat: 45.5946, Lon: -121.1787},
	{Code: "p2-eu-west", Lat: 53.3331, Lon: -6.2489},
	{Code: "p2-eu-central", Lat: 50.1109, Lon: 8.6821},
	{Code: "p2-ap-southeast", Lat: 1.3521, Lon: 103.8198},
	{Code: "p2-ap-northeast", Lat: 35.6762, Lon: 139.6503},
	{Code: "p2-sa-east", Lat: -23.5505, Lon: -46.6333},
}
