package vkhal

import (
	"fmt"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/hellotriangle/hal"
)

func isError(ret vk.Result) bool {
	return ret != vk.Success
}

// newError turns a failed vk.Result into an error carrying a stack.
// A lost device is reported as hal.ErrDeviceRemoved.
func newError(ret vk.Result) error {
	if ret == vk.Success {
		return nil
	}
	msg := fmt.Sprintf("vulkan error: %s (%d)", vk.Error(ret).Error(), ret)
	switch ret {
	case vk.ErrorDeviceLost:
		return errors.Wrap(hal.ErrDeviceRemoved, msg)
	case vk.ErrorFeatureNotPresent, vk.ErrorExtensionNotPresent, vk.ErrorLayerNotPresent,
		vk.ErrorIncompatibleDriver, vk.ErrorFormatNotSupported:
		return errors.Wrap(hal.ErrUnsupported, msg)
	}
	return errors.New(msg)
}

// checkErr turns a panic raised by the bindings (an unloaded entry point,
// a nil handle) into an error.
func checkErr(err *error) {
	if v := recover(); v != nil {
		*err = errors.Errorf("%+v", v)
	}
}
