// Package routegen builds delivery routes out of legs fetched from a
// directions provider.
package routegen

import (
	"context"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-delivery/internal/directions"
	"github.com/ukydev/fleet-delivery/internal/geo"
	"github.com/ukydev/fleet-delivery/internal/models"
)

const (
	// MaxLegWaypoints bounds the size of a single leg after reduction.
	MaxLegWaypoints = 300
	// MaxLegAttempts is how many destinations are tried before giving up on a leg.
	MaxLegAttempts = 3

	DefaultMinSpawnDistance = 1000
	DefaultMaxSpawnRange    = 2000
)

// Options configure a Generator. Zero values fall back to the defaults.
type Options struct {
	MinSpawnDistance int
	MaxSpawnRange    int
	Seed             int64
}

// Generator produces legs by picking random destinations around a point.
type Generator struct {
	provider         directions.Provider
	minSpawnDistance int
	maxSpawnRange    int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator creates a Generator backed by provider.
func NewGenerator(provider directions.Provider, opts Options) *Generator {
	if opts.MinSpawnDistance <= 0 {
		opts.MinSpawnDistance = DefaultMinSpawnDistance
	}
	if opts.MaxSpawnRange < 0 {
		opts.MaxSpawnRange = DefaultMaxSpawnRange
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	return &Generator{
		provider:         provider,
		minSpawnDistance: opts.MinSpawnDistance,
		maxSpawnRange:    opts.MaxSpawnRange,
		rng:              rand.New(rand.NewSource(opts.Seed)),
	}
}

func (g *Generator) destination(from models.Coordinate) models.Coordinate {
	g.mu.Lock()
	defer g.mu.Unlock()
	return geo.RandomOffset(g.rng, from, g.minSpawnDistance, g.maxSpawnRange)
}

// GenerateLeg returns one annotated leg starting near from, or nil when the
// provider yields nothing usable after MaxLegAttempts destinations.
func (g *Generator) GenerateLeg(ctx context.Context, from models.Coordinate) models.Route {
	for attempt := 1; attempt <= MaxLegAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil
		}
		to := g.destination(from)
		points, err := g.provider.Route(ctx, from, to)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"attempt": attempt,
				"from":    from,
				"to":      to,
			}).Warn("Directions request failed")
			continue
		}
		if len(points) < 2 {
			log.WithFields(log.Fields{"attempt": attempt, "to": to}).Debug("No waypoints for destination")
			continue
		}
		return AnnotateLeg(Reduce(points))
	}
	log.WithField("from", from).Warn("Giving up on leg after repeated empty routes")
	return nil
}

// GenerateRoute chains up to legCount legs, each starting where the previous
// one ended. It stops at the first empty leg and returns what it has.
func (g *Generator) GenerateRoute(ctx context.Context, from models.Coordinate, legCount int) models.Route {
	var route models.Route
	origin := from
	for i := 0; i < legCount; i++ {
		leg := g.GenerateLeg(ctx, origin)
		if len(leg) == 0 {
			break
		}
		route = append(route, leg...)
		origin, _ = leg.Destination()
	}
	return route
}

// Reduce thins points until there are at most MaxLegWaypoints. Each pass keeps
// the first point, the even interior indices in [1, len-3] and the last point.
// This is a lossy simplification: only the endpoints are guaranteed to
// survive and there is no bound on deviation from the original path.
func Reduce(points []models.Coordinate) []models.Coordinate {
	for len(points) > MaxLegWaypoints {
		next := make([]models.Coordinate, 0, len(points)/2+2)
		next = append(next, points[0])
		for i := 1; i < len(points)-2; i++ {
			if i%2 == 0 {
				next = append(next, points[i])
			}
		}
		next = append(next, points[len(points)-1])
		points = next
	}
	return points
}

// AnnotateLeg rounds points and marks the first as StartOfLeg(len-1) and the
// last as EndOfLeg. Fewer than two points cannot form a leg and yield nil.
func AnnotateLeg(points []models.Coordinate) models.Route {
	if len(points) < 2 {
		return nil
	}
	leg := make(models.Route, len(points))
	for i, p := range points {
		leg[i] = models.Waypoint{Coordinate: geo.RoundCoordinate(p)}
	}
	leg[0].Meta = models.StartOfLeg(len(points) - 1)
	leg[len(leg)-1].Meta = models.EndOfLeg()
	return leg
}

var (
	defaultDepot = models.Coordinate{Lat: 37.7838, Lng: -122.399}
	defaultStops = []models.Coordinate{
		{Lat: 37.7946, Lng: -122.3999},
		{Lat: 37.7879, Lng: -122.4075},
	}
)

const defaultLegSteps = 40

// DefaultRoute is the fallback used when no leg can be generated: two
// straight legs around downtown San Francisco.
func DefaultRoute() models.Route {
	var route models.Route
	from := defaultDepot
	for _, to := range defaultStops {
		points := make([]models.Coordinate, defaultLegSteps+1)
		for i := range points {
			points[i] = geo.Lerp(from, to, float64(i)/defaultLegSteps)
		}
		route = append(route, AnnotateLeg(points)...)
		from = to
	}
	return route
}
