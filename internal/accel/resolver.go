package accel

import (
	"fmt"

	"go.uber.org/zap"
)

// Resolver selects the device the pipeline runs on.
type Resolver struct {
	runtime    Runtime
	vendor     string
	deviceType DeviceType
	log        *zap.Logger
}

// NewResolver returns a resolver that accepts only platforms named vendor.
func NewResolver(rt Runtime, vendor string, deviceType DeviceType, log *zap.Logger) *Resolver {
	return &Resolver{
		runtime:    rt,
		vendor:     vendor,
		deviceType: deviceType,
		log:        log.Named("resolver"),
	}
}

// Resolve returns the first device of the configured class on the first
// platform whose name equals the vendor. There is no fallback platform.
func (r *Resolver) Resolve() (Platform, Device, error) {
	platforms, err := r.runtime.Platforms()
	if err != nil {
		return nil, nil, newError(ErrDeviceNotFound, "Platforms", err)
	}

	var platform Platform
	for _, p := range platforms {
		r.log.Debug("found platform", zap.String("name", p.Name()), zap.String("vendor", p.Vendor()))
		if p.Name() == r.vendor {
			platform = p
			break
		}
	}
	if platform == nil {
		return nil, nil, newError(ErrDeviceNotFound, "Platforms",
			fmt.Errorf("no platform named %q among %d", r.vendor, len(platforms)))
	}

	devices, err := platform.Devices(r.deviceType)
	if err != nil {
		return nil, nil, newError(ErrDeviceNotFound, "Devices", err)
	}
	if len(devices) == 0 {
		return nil, nil, newError(ErrDeviceNotFound, "Devices",
			fmt.Errorf("platform %q has no %s devices", r.vendor, r.deviceType))
	}

	device := devices[0]
	r.log.Info("resolved device",
		zap.String("platform", platform.Name()),
		zap.String("device", device.Name()),
		zap.Int("candidates", len(devices)))
	return platform, device, nil
}
