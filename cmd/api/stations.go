package main

import "github.com/gocomet/ride-dispatch/internal/domain/station"

// demoStations seed the in-memory ledger so a development instance can match
// rides without a database.
var demoStations = []station.Station{
	{ID: "central", Name: "Central", X: 0, Y: 0},
	{ID: "harbour", Name: "Harbour", X: 8, Y: -3},
	{ID: "airport", Name: "Airport", X: 20, Y: 15},
	{ID: "university", Name: "University", X: -6, Y: 9},
}
