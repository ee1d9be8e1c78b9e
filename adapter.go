package hellotriangle

import (
	"github.com/pkg/errors"

	"github.com/andewx/hellotriangle/hal"
)

// MinimumFeatureLevel is the level every device is created at.
const MinimumFeatureLevel = hal.FeatureLevel11_0

// GetHardwareAdapter returns the first non-software adapter that supports
// MinimumFeatureLevel. Factories that can order adapters by preference are
// searched that way first, asking for the high-performance adapter when
// requestHighPerformance is set. Plain enumeration order is the fallback.
func GetHardwareAdapter(factory hal.Factory, requestHighPerformance bool) (hal.Adapter, error) {
	if pf, ok := factory.(hal.PreferenceFactory); ok {
		pref := hal.GPUPreferenceUnspecified
		if requestHighPerformance {
			pref = hal.GPUPreferenceHighPerformance
		}
		a, err := searchAdapters(factory, func(i int) (hal.Adapter, error) {
			return pf.EnumAdapterByGPUPreference(i, pref)
		})
		if a != nil || err != nil {
			return a, err
		}
	}
	a, err := searchAdapters(factory, factory.EnumAdapters)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNoHardwareAdapter
	}
	return a, nil
}

// searchAdapters walks enum until ErrNotFound. It returns a nil adapter
// when nothing qualifies.
func searchAdapters(factory hal.Factory, enum func(int) (hal.Adapter, error)) (hal.Adapter, error) {
	for i := 0; ; i++ {
		a, err := enum(i)
		if errors.Is(err, hal.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "enumerate adapter %d", i)
		}
		desc := a.Desc()
		if desc.Flags.Has(hal.AdapterFlagSoftware) {
			Logger().Debug("skipping software adapter", "adapter", desc.Description)
			continue
		}
		if err := factory.CheckDeviceSupport(a, MinimumFeatureLevel); err != nil {
			Logger().Debug("adapter rejected", "adapter", desc.Description, "err", err)
			continue
		}
		return a, nil
	}
}
