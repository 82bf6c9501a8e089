package geo

import (
	"fmt"
	"sort"
	"strings"

	"eventmap/internal/domain/event"
	"eventmap/internal/domain/geo"
)

// DefaultClusterThresholdKm is the proximity under which events share a marker
const DefaultClusterThresholdKm = 0.05

// ClusterMode selects how proximity groups are formed
type ClusterMode string

const (
	// ClusterTransitive groups connected components of the "within threshold"
	// relation: A-B close and B-C close puts A, B and C together.
	ClusterTransitive ClusterMode = "transitive"
	// ClusterAnchor only groups events within the threshold of the anchor itself.
	ClusterAnchor ClusterMode = "anchor"
)

// ParseClusterMode parses a mode name
func ParseClusterMode(s string) (ClusterMode, error) {
	switch ClusterMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ClusterTransitive:
		return ClusterTransitive, nil
	case ClusterAnchor:
		return ClusterAnchor, nil
	default:
		return "", fmt.Errorf("unknown cluster mode %q", s)
	}
}

// Clusterer groups already-filtered events into map markers
type Clusterer struct {
	ThresholdKm float64
	Mode        ClusterMode
}

// NewClusterer creates a clusterer with the default threshold
func NewClusterer(mode ClusterMode) *Clusterer {
	return &Clusterer{
		ThresholdKm: DefaultClusterThresholdKm,
		Mode:        mode,
	}
}

// ClusterEvents groups events with the default threshold in transitive mode
func ClusterEvents(events []event.Record) []event.Cluster {
	return NewClusterer(ClusterTransitive).Cluster(events)
}

// Cluster partitions events into clusters. Every event with coordinates ends
// up in exactly one cluster. Clusters come out in the order their anchor
// first appears in events, and members keep input order.
func (c *Clusterer) Cluster(events []event.Record) []event.Cluster {
	if len(events) == 0 {
		return nil
	}

	points := make([]geo.GeoPoint, len(events))
	mappable := make([]bool, len(events))
	for i, e := range events {
		points[i], mappable[i] = e.Point()
	}

	// processed is keyed by index so duplicate ids cannot swallow events
	processed := make([]bool, len(events))
	var clusters []event.Cluster

	for i := range events {
		if processed[i] || !mappable[i] {
			continue
		}

		processed[i] = true
		group := []int{i}

		// group grows while it is scanned; in anchor mode only the anchor is
		// used as a reference point
		for k := 0; k < len(group); k++ {
			ref := group[k]
			if c.Mode == ClusterAnchor && ref != i {
				break
			}
			for j := range events {
				if processed[j] || !mappable[j] {
					continue
				}
				if HaversineKm(points[ref], points[j]) < c.ThresholdKm {
					processed[j] = true
					group = append(group, j)
				}
			}
		}

		clusters = append(clusters, c.buildCluster(events, points, group))
	}

	return clusters
}

func (c *Clusterer) buildCluster(events []event.Record, points []geo.GeoPoint, group []int) event.Cluster {
	sort.Ints(group)

	members := make([]event.Record, len(group))
	for n, idx := range group {
		members[n] = events[idx]
	}

	anchor := group[0]
	return event.Cluster{
		Anchor:             points[anchor],
		Members:            members,
		RepresentativeType: events[anchor].Type,
	}
}
