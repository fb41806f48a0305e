package placement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudplay/fleet-control-plane/core/apperr"
	"github.com/cloudplay/fleet-control-plane/core/geocoder"
	"github.com/cloudplay/fleet-control-plane/core/models"
	"github.com/cloudplay/fleet-control-plane/providers/p1"
)

type fakeGaz struct {
	coords map[string]geocoder.Coord
	calls  int
}

func (f *fakeGaz) Lookup(ctx context.Context, city, region, country string) (geocoder.Coord, bool, error) {
	f.calls++
	c, ok := f.coords[city]
	return c, ok, nil
}

type fakeInventory struct {
	nodes []p1.InventoryNode
	err   error
}

func (f *fakeInventory) GetInventory(ctx context.Context) ([]p1.InventoryNode, error) {
	return f.nodes, f.err
}

type fakeLocationFinder struct {
	codes []string
	err   error
}

func (f *fakeLocationFinder) Proximity(ctx context.Context, coord models.Coord) ([]string, error) {
	return f.codes, f.err
}

func TestRankP1_NearestWins(t *testing.T) {
	gaz := &fakeGaz{coords: map[string]geocoder.Coord{
		"Boston": {Lat: 42.36, Lon: -71.06},
		"Dallas": {Lat: 32.78, Lon: -96.80},
	}}
	geo := geocoder.New(gaz, time.Second)
	inv := &fakeInventory{nodes: []p1.InventoryNode{
		{ID: "dallas-1", City: "Dallas", VCPU: 8, MemoryGiB: 32, GPUCount: 1, HasAddress: true, PricePerHour: 1.0},
		{ID: "boston-1", City: "Boston", VCPU: 8, MemoryGiB: 32, GPUCount: 1, HasAddress: true, PricePerHour: 2.0},
	}}

	opt := New(geo, inv, &fakeLocationFinder{})
	userCoord := &models.Coord{Lat: 40.7128, Lon: -74.0060} // NYC

	result, err := opt.RankP1(context.Background(), userCoord, Minima{MinVCPU: 4, MinMemoryGiB: 16, MinGPUCount: 1})
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, "boston-1", result[0].NodeID, "Boston is closer to NYC than Dallas")
}

func TestRankP1_FiltersBelowMinima(t *testing.T) {
	geo := geocoder.New(&fakeGaz{coords: map[string]geocoder.Coord{}}, time.Second)
	inv := &fakeInventory{nodes: []p1.InventoryNode{
		{ID: "small", VCPU: 1, MemoryGiB: 2, GPUCount: 0, HasAddress: true},
	}}
	opt := New(geo, inv, &fakeLocationFinder{})

	_, err := opt.RankP1(context.Background(), nil, Minima{MinVCPU: 4, MinMemoryGiB: 16, MinGPUCount: 1})
	require.Error(t, err)
}

func TestRankP1_EmptyInventoryNoCandidateWithoutGeocoderCall(t *testing.T) {
	gaz := &fakeGaz{coords: map[string]geocoder.Coord{}}
	geo := geocoder.New(gaz, time.Second)
	inv := &fakeInventory{nodes: nil}
	opt := New(geo, inv, &fakeLocationFinder{})

	_, err := opt.RankP1(context.Background(), &models.Coord{Lat: 0, Lon: 0}, Minima{})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNoCandidate), "empty inventory must yield NoCandidate")
	assert.Equal(t, 0, gaz.calls, "the geocoder must not be consulted for an empty inventory")
}

func TestRankP1_NoUserCoordRanksByPrice(t *testing.T) {
	geo := geocoder.New(&fakeGaz{coords: map[string]geocoder.Coord{}}, time.Second)
	inv := &fakeInventory{nodes: []p1.InventoryNode{
		{ID: "expensive", VCPU: 4, MemoryGiB: 16, GPUCount: 1, HasAddress: true, PricePerHour: 5.0},
		{ID: "cheap", VCPU: 4, MemoryGiB: 16, GPUCount: 1, HasAddress: true, PricePerHour: 1.0},
	}}
	opt := New(geo, inv, &fakeLocationFinder{})

	result, err := opt.RankP1(context.Background(), nil, Minima{MinVCPU: 4, MinMemoryGiB: 16, MinGPUCount: 1})
	require.NoError(t, err)
	assert.Equal(t, "cheap", result[0].NodeID)
}

func TestRankP2_FallsBackToStaticOnFailure(t *testing.T) {
	geo := geocoder.New(&fakeGaz{}, time.Second)
	opt := New(geo, &fakeInventory{}, &fakeLocationFinder{err: errors.New("location finder 500")})

	result, err := opt.RankP2(context.Background(), models.Coord{Lat: 39.0, Lon: -77.0})
	require.NoError(t, err)
	require.NotEmpty(t, result)
	assert.Equal(t, "local", result[0].Source)
}

func TestRankP2_UsesRemoteWhenAvailable(t *testing.T) {
	geo := geocoder.New(&fakeGaz{}, time.Second)
	opt := New(geo, &fakeInventory{}, &fakeLocationFinder{codes: []string{"p2-us-east"}})

	result, err := opt.RankP2(context.Background(), models.Coord{Lat: 39.0, Lon: -77.0})
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "remote", result[0].Source)
	assert.Equal(t, "p2-us-east", result[0].RegionCode)
}
