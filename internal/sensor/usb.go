package sensor

import (
	"errors"
	"fmt"

	"github.com/google/gousb"
)

// ErrProbeDisabled is returned by ProbeUSB when no device IDs are configured
var ErrProbeDisabled = errors.New("usb probe disabled")

// DeviceInfo describes a USB IMU found on the bus
type DeviceInfo struct {
	VendorID     string `json:"vendor_id"`
	ProductID    string `json:"product_id"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Product      string `json:"product,omitempty"`
	Serial       string `json:"serial,omitempty"`
}

// ProbeUSB checks that a USB IMU with the given IDs is attached. Descriptor
// strings are best effort.
func ProbeUSB(vendorID, productID uint16) (DeviceInfo, error) {
	if vendorID == 0 && productID == 0 {
		return DeviceInfo{}, ErrProbeDisabled
	}

	info := DeviceInfo{
		VendorID:  fmt.Sprintf("0x%04X", vendorID),
		ProductID: fmt.Sprintf("0x%04X", productID),
	}

	ctx := gousb.NewContext()
	defer ctx.Close()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vendorID), gousb.ID(productID))
	if err != nil {
		return info, fmt.Errorf("failed to open USB IMU: %w", err)
	}
	if dev == nil {
		return info, fmt.Errorf("USB IMU not found (VID=%s PID=%s)", info.VendorID, info.ProductID)
	}
	defer dev.Close()

	if s, err := dev.Manufacturer(); err == nil {
		info.Manufacturer = s
	}
	if s, err := dev.Product(); err == nil {
		info.Product = s
	}
	if s, err := dev.SerialNumber(); err == nil {
		info.Serial = s
	}

	return info, nil
}
