package geocoder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGazetteer struct {
	calls   int
	coord   Coord
	found   bool
	err     error
}

func (f *fakeGazetteer) Lookup(ctx context.Context, city, region, country string) (Coord, bool, error) {
	f.calls++
	return f.coord, f.found, f.err
}

func TestDistanceKM_SelfIsZero(t *testing.T) {
	a := Coord{Lat: 42.36, Lon: -71.06}
	d, err := DistanceKM(a, a)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, d, 1e-9)
}

func TestDistanceKM_Symmetric(t *testing.T) {
	boston := Coord{Lat: 42.36, Lon: -71.06}
	dallas := Coord{Lat: 32.78, Lon: -96.80}

	d1, err := DistanceKM(boston, dallas)
	require.NoError(t, err)
	d2, err := DistanceKM(dallas, boston)
	require.NoError(t, err)
	assert.InDelta(t, d1, d2, 1e-9)
}

func TestDistanceKM_TriangleInequality(t *testing.T) {
	a := Coord{Lat: 40.7128, Lon: -74.0060}  // NYC
	b := Coord{Lat: 42.36, Lon: -71.06}      // Boston
	c := Coord{Lat: 32.78, Lon: -96.80}      // Dallas

	ab, _ := DistanceKM(a, b)
	bc, _ := DistanceKM(b, c)
	ac, _ := DistanceKM(a, c)

	assert.LessOrEqual(t, ac, ab+bc+0.5)
}

func TestDistanceKM_OutOfDomain(t *testing.T) {
	_, err := DistanceKM(Coord{Lat: 91, Lon: 0}, Coord{Lat: 0, Lon: 0})
	require.Error(t, err)
}

func TestResolve_CachesSuccess(t *testing.T) {
	fg := &fakeGazetteer{coord: Coord{Lat: 1, Lon: 2}, found: true}
	g := New(fg, time.Second)

	c1, ok1 := g.Resolve(context.Background(), "Boston", "MA", "US")
	c2, ok2 := g.Resolve(context.Background(), "boston", " ma ", "us")

	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.Equal(t, c1, c2)
	assert.Equal(t, 1, fg.calls, "second lookup for the normalized-equal key must hit cache")
}

func TestResolve_CachesUnknown(t *testing.T) {
	fg := &fakeGazetteer{err: errors.New("gazetteer down")}
	g := New(fg, time.Second)

	_, ok1 := g.Resolve(context.Background(), "Nowhere", "", "")
	_, ok2 := g.Resolve(context.Background(), "Nowhere", "", "")

	assert.False(t, ok1)
	assert.False(t, ok2)
	assert.Equal(t, 1, fg.calls, "UNKNOWN results must also be cached")
}
