package store

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/speters/nowtank/pkg/tank"
)

// Namespaces and keys shared with the node firmware
const (
	GeometryNamespace = "storage"
	DiameterKey       = "diameter"
	HeightKey         = "height"

	OutputNamespace = "led_state"
	OutputKey       = "state"
)

// LoadGeometry reads the tank geometry. Missing values are replaced by the
// defaults, which are written back so the store holds explicit values after
// the first start. On error the returned geometry still holds usable values.
func LoadGeometry(s Store) (tank.Geometry, error) {
	g := tank.Default()

	h, err := s.Open(GeometryNamespace)
	if err != nil {
		return g, err
	}
	defer h.Close()

	var errs []error
	dirty := false
	load := func(key string, v *int32) {
		got, err := h.GetInt32(key)
		switch {
		case err == nil:
			*v = got
		case errors.Is(err, ErrNotFound):
			log.Infof("No %v stored, using default %v", key, *v)
			if err := h.SetInt32(key, *v); err != nil {
				errs = append(errs, err)
				return
			}
			dirty = true
		default:
			errs = append(errs, fmt.Errorf("read %v: %w", key, err))
		}
	}
	load(DiameterKey, &g.DiameterCM)
	load(HeightKey, &g.HeightCM)

	if dirty {
		if err := h.Commit(); err != nil {
			errs = append(errs, err)
		}
	}
	log.Infof("Tank geometry: diameter=%v cm, height=%v cm", g.DiameterCM, g.HeightCM)
	return g, errors.Join(errs...)
}

// SaveGeometry persists g
func SaveGeometry(s Store, g tank.Geometry) error {
	h, err := s.Open(GeometryNamespace)
	if err != nil {
		return err
	}
	defer h.Close()

	if err := h.SetInt32(DiameterKey, g.DiameterCM); err != nil {
		return err
	}
	if err := h.SetInt32(HeightKey, g.HeightCM); err != nil {
		return err
	}
	return h.Commit()
}

// LoadOutput reads the persisted output state; missing means off
func LoadOutput(s Store) (bool, error) {
	h, err := s.Open(OutputNamespace)
	if err != nil {
		return false, err
	}
	defer h.Close()

	v, err := h.GetUint8(OutputKey)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == 1, nil
}

// SaveOutput persists the output state as 0 or 1
func SaveOutput(s Store, on bool) error {
	h, err := s.Open(OutputNamespace)
	if err != nil {
		return err
	}
	defer h.Close()

	var v uint8
	if on {
		v = 1
	}
	if err := h.SetUint8(OutputKey, v); err != nil {
		return err
	}
	return h.Commit()
}
