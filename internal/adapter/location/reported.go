// Package location adapts geolocation reported by a client device to the
// map engine's LocationProvider collaborator.
package location

import (
	"context"
	"errors"
	"time"

	"eventmap/internal/domain/geo"
	"eventmap/internal/domain/mapview"
)

// ErrNoFix is returned when the client sent no usable position
var ErrNoFix = errors.New("client reported no position fix")

// Reported is the permission state and optional fix a client sent when
// opening a map session
type Reported struct {
	Permission mapview.PermissionStatus
	Fix        *geo.GeoPoint
}

// PermissionStatus returns the reported permission, undetermined if absent
func (r Reported) PermissionStatus(ctx context.Context) (mapview.PermissionStatus, error) {
	if r.Permission == "" {
		return mapview.PermissionUndetermined, nil
	}
	return r.Permission, nil
}

// CurrentPosition returns the reported fix
func (r Reported) CurrentPosition(ctx context.Context, timeout time.Duration) (*geo.GeoPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.Fix == nil || !r.Fix.Valid() {
		return nil, ErrNoFix
	}
	fix := *r.Fix
	return &fix, nil
}
