// Package placement implements the Location Optimizer of §4.2: given a user
// coordinate, it ranks candidate placements for either provider. It is a
// pure query — no state change beyond Geocoder cache writes.
package placement

import (
	"context"
	"math"
	"sort"

	"github.com/cloudplay/fleet-control-plane/core/apperr"
	"github.com/cloudplay/fleet-control-plane/core/geocoder"
	"github.com/cloudplay/fleet-control-plane/core/models"
	"github.com/cloudplay/fleet-control-plane/providers/p1"
	"github.com/cloudplay/fleet-control-plane/providers/p2"
)

// Placement is one ranked candidate. Exactly one of NodeID/RegionCode is set,
// depending on which provider it was ranked for.
type Placement struct {
	Provider     models.Provider
	NodeID       string // set for P1
	RegionCode   string // set for P2
	DistanceKM   float64
	PricePerHour float64
	Source       string // "remote" | "local", set for P2 only
}

// Minima is the §4.2 minimum-capability filter for P1 inventory ranking.
type Minima struct {
	MinVCPU      int
	MinMemoryGiB int
	MinGPUCount  int
}

// Inventory is the subset of the P1 client the optimizer depends on.
type Inventory interface {
	GetInventory(ctx context.Context) ([]p1.InventoryNode, error)
}

// LocationFinder is the external proximity service consulted for P2 (§4.2, §6.4).
type LocationFinder interface {
	// Proximity returns an ordered (nearest-first) list of region codes for
	// the given coordinate, or an error on any failure.
	Proximity(ctx context.Context, coord models.Coord) ([]string, error)
}

// Optimizer is the Location Optimizer.
type Optimizer struct {
	geo            *geocoder.Geocoder
	inventory      Inventory
	locationFinder LocationFinder
}

func New(geo *geocoder.Geocoder, inventory Inventory, locationFinder LocationFinder) *Optimizer {
	return &Optimizer{geo: geo, inventory: inventory, locationFinder: locationFinder}
}

// RankP1 implements §4.2's inventory-based ranking.
func (o *Optimizer) RankP1(ctx context.Context, userCoord *models.Coord, minima Minima) ([]Placement, error) {
	nodes, err := o.inventory.GetInventory(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProviderError, "fetch p1 inventory", err)
	}

	var candidates []p1.InventoryNode
	for _, n := range nodes {
		if n.VCPU >= minima.MinVCPU && n.MemoryGiB >= minima.MinMemoryGiB &&
			n.GPUCount >= minima.MinGPUCount && n.HasAddress {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return nil, apperr.New(apperr.KindNoCandidate, "no p1 inventory node meets minima")
	}

	placements := make([]Placement, 0, len(candidates))
	for _, n := range candidates {
		p := Placement{Provider: models.ProviderP1, NodeID: n.ID, PricePerHour: n.PricePerHour}

		if userCoord == nil {
			p.DistanceKM = 0
			placements = append(placements, p)
			continue
		}

		coord, ok := o.geo.Resolve(ctx, n.City, n.Region, n.Country)
		if !ok {
			p.DistanceKM = math.Inf(1)
		} else {
			d, derr := geocoder.DistanceKM(geocoder.Coord{Lat: userCoord.Lat, Lon: userCoord.Lon}, coord)
			if derr != nil {
				return nil, derr
			}
			p.DistanceKM = d
		}
		placements = append(placements, p)
	}

	if userCoord == nil {
		sort.SliceStable(placements, func(i, j int) bool {
			return placements[i].PricePerHour < placements[j].PricePerHour
		})
	} else {
		sort.SliceStable(placements, func(i, j int) bool {
			if placements[i].DistanceKM != placements[j].DistanceKM {
				return placements[i].DistanceKM < placements[j].DistanceKM
			}
			return placements[i].PricePerHour < placements[j].PricePerHour
		})
	}

	return placements, nil
}

// RankP2 implements §4.2's named-region ranking: try the external
// location-finder first, falling back deterministically to the static table.
func (o *Optimizer) RankP2(ctx context.Context, userCoord models.Coord) ([]Placement, error) {
	if codes, err := o.locationFinder.Proximity(ctx, userCoord); err == nil && len(codes) > 0 {
		placements := make([]Placement, 0, len(codes))
		for _, code := range codes {
			placements = append(placements, Placement{Provider: models.ProviderP2, RegionCode: code, Source: "remote"})
		}
		return placements, nil
	}

	return o.rankP2Static(userCoord)
}

func (o *Optimizer) rankP2Static(userCoord models.Coord) ([]Placement, error) {
	if len(p2.StaticRegions) == 0 {
		return nil, apperr.New(apperr.KindNoCandidate, "no p2 static region available")
	}

	placements := make([]Placement, 0, len(p2.StaticRegions))
	for _, r := range p2.StaticRegions {
		d, err := geocoder.DistanceKM(
			geocoder.Coord{Lat: userCoord.Lat, Lon: userCoord.Lon},
			geocoder.Coord{Lat: r.Lat, Lon: r.Lon},
		)
		if err != nil {
			return nil, err
		}
		placements = append(placements, Placement{
			Provider:   models.ProviderP2,
			RegionCode: r.Code,
			DistanceKM: d,
			Source:     "local",
		})
	}

	sort.SliceStable(placements, func(i, j int) bool {
		return placements[i].DistanceKM < placements[j].DistanceKM
	})

	return placements, nil
}
