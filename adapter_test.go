package hellotriangle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andewx/hellotriangle/hal"
	"github.com/andewx/hellotriangle/simgpu"
)

// noPreferredAdapters reports preference support but enumerates nothing
// that way, which forces the plain enumeration tier.
type noPreferredAdapters struct {
	hal.Factory
	asked int
}

func (f *noPreferredAdapters) EnumAdapterByGPUPreference(int, hal.GPUPreference) (hal.Adapter, error) {
	f.asked++
	return nil, hal.ErrNotFound
}

func TestGetHardwareAdapter(t *testing.T) {
	sw := simgpu.AdapterSpec{Description: "warp", Software: true, MaxLevel: hal.FeatureLevel12_1}
	old := simgpu.AdapterSpec{Description: "old", MaxLevel: hal.FeatureLevel11_0 - 1}
	igpu := simgpu.AdapterSpec{Description: "igpu", MaxLevel: hal.FeatureLevel12_0}
	dgpu := simgpu.AdapterSpec{Description: "dgpu", Discrete: true, MaxLevel: hal.FeatureLevel12_1}

	tests := []struct {
		name     string
		adapters []simgpu.AdapterSpec
		noPref   bool
		highPerf bool
		want     string
	}{
		{name: "integrated only", adapters: []simgpu.AdapterSpec{sw, igpu}, want: "igpu"},
		{name: "high performance prefers discrete", adapters: []simgpu.AdapterSpec{igpu, dgpu}, highPerf: true, want: "dgpu"},
		{name: "unspecified keeps platform order", adapters: []simgpu.AdapterSpec{igpu, dgpu}, want: "igpu"},
		{name: "unsupported level skipped", adapters: []simgpu.AdapterSpec{old, sw, igpu}, want: "igpu"},
		{name: "plain enumeration", adapters: []simgpu.AdapterSpec{sw, dgpu, igpu}, noPref: true, highPerf: true, want: "dgpu"},
		{name: "software only", adapters: []simgpu.AdapterSpec{sw}},
		{name: "nothing capable", adapters: []simgpu.AdapterSpec{sw, old}, highPerf: true},
		{name: "no adapters", adapters: []simgpu.AdapterSpec{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := simgpu.NewFactory(simgpu.Options{Adapters: tt.adapters, NoPreference: tt.noPref})
			defer f.Release()
			a, err := GetHardwareAdapter(f, tt.highPerf)
			if tt.want == "" {
				assert.ErrorIs(t, err, ErrNoHardwareAdapter)
				assert.Nil(t, a)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.Desc().Description)
		})
	}
}

func TestGetHardwareAdapterFallsBackToEnumeration(t *testing.T) {
	inner := simgpu.NewFactory(simgpu.Options{NoPreference: true})
	defer inner.Release()
	f := &noPreferredAdapters{Factory: inner}

	a, err := GetHardwareAdapter(f, true)
	require.NoError(t, err)
	assert.Equal(t, 1, f.asked)
	assert.Equal(t, simgpu.DefaultAdapters[1].Description, a.Desc().Description)
}

// Every mix of up to four adapters, each software or not, discrete or not,
// capable or not.
func TestGetHardwareAdapterNeverSoftware(t *testing.T) {
	kinds := []simgpu.AdapterSpec{
		{Software: true, MaxLevel: hal.FeatureLevel12_1},
		{Software: true, Discrete: true, MaxLevel: hal.FeatureLevel12_1},
		{MaxLevel: hal.FeatureLevel11_0},
		{Discrete: true, MaxLevel: hal.FeatureLevel12_1},
		{Discrete: true, MaxLevel: 0},
	}
	var walk func(prefix []simgpu.AdapterSpec)
	walk = func(prefix []simgpu.AdapterSpec) {
		for _, noPref := range []bool{false, true} {
			for _, highPerf := range []bool{false, true} {
				specs := make([]simgpu.AdapterSpec, len(prefix))
				for i, s := range prefix {
					s.Description = fmt.Sprintf("a%d", i)
					specs[i] = s
				}
				f := simgpu.NewFactory(simgpu.Options{Adapters: specs, NoPreference: noPref})
				a, err := GetHardwareAdapter(f, highPerf)
				f.Release()

				hasHardware := false
				for _, s := range prefix {
					hasHardware = hasHardware || (!s.Software && s.MaxLevel >= MinimumFeatureLevel)
				}
				if !hasHardware {
					assert.ErrorIs(t, err, ErrNoHardwareAdapter, "%v", prefix)
					continue
				}
				if assert.NoError(t, err, "%v", prefix) {
					assert.False(t, a.Desc().Flags.Has(hal.AdapterFlagSoftware), "%v", prefix)
				}
			}
		}
		if len(prefix) == 4 {
			return
		}
		for _, k := range kinds {
			walk(append(append([]simgpu.AdapterSpec(nil), prefix...), k))
		}
	}
	walk(nil)
}
