package usbtmc

import (
	"fmt"
	"strings"

	"github.com/google/gousb"
	"go.uber.org/multierr"
)

// USBTMC interface class and subclass.
const (
	classApplication gousb.Class = 0xfe
	subclassTMC      gousb.Class = 0x03
)

// Device identifies a USBTMC instrument on the bus.
type Device struct {
	Vendor  gousb.ID
	Product gousb.ID
	Serial  string
}

// Resource renders d as a VISA resource id.
func (d Device) Resource(board int) string {
	return fmt.Sprintf("USB%d::0x%04X::0x%04X::%s::INSTR", board, uint16(d.Vendor), uint16(d.Product), d.Serial)
}

func isTMC(desc *gousb.DeviceDesc) bool {
	for _, cfg := range desc.Configs {
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				if alt.Class == classApplication && alt.SubClass == subclassTMC {
					return true
				}
			}
		}
	}
	return false
}

// List returns the USBTMC instruments attached to the host.
func List(ctx *gousb.Context) ([]Device, error) {
	devs, err := ctx.OpenDevices(isTMC)
	defer func() {
		for _, d := range devs {
			d.Close()
		}
	}()
	var out []Device
	for _, d := range devs {
		sn, serr := d.SerialNumber()
		if serr != nil {
			err = multierr.Append(err, serr)
			continue
		}
		out = append(out, Device{Vendor: d.Desc.Vendor, Product: d.Desc.Product, Serial: sn})
	}
	return out, err
}

// Open claims the USBTMC interface of the instrument with the given ids and
// serial number (any serial when empty) and returns a pipe over its bulk
// endpoints.
func Open(ctx *gousb.Context, vid, pid gousb.ID, serial string) (*Pipe, error) {
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == vid && desc.Product == pid
	})
	if err != nil && len(devs) == 0 {
		return nil, err
	}
	var dev *gousb.Device
	for _, d := range devs {
		if dev == nil {
			if sn, err := d.SerialNumber(); err == nil && (serial == "" || strings.EqualFold(sn, serial)) {
				dev = d
				continue
			}
		}
		d.Close()
	}
	if dev == nil {
		return nil, fmt.Errorf("usbtmc: no device %s:%s with serial %q", vid, pid, serial)
	}
	// the kernel usbtmc driver holds the interface otherwise
	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		return nil, err
	}
	intf, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		return nil, err
	}
	closer := func() error {
		done()
		return dev.Close()
	}

	outNum, inNum := -1, -1
	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch {
		case ep.Direction == gousb.EndpointDirectionOut && outNum < 0:
			outNum = ep.Number
		case ep.Direction == gousb.EndpointDirectionIn && inNum < 0:
			inNum = ep.Number
		}
	}
	if outNum < 0 || inNum < 0 {
		return nil, multierr.Append(fmt.Errorf("usbtmc: %s has no bulk endpoint pair", dev), closer())
	}
	out, err := intf.OutEndpoint(outNum)
	if err != nil {
		return nil, multierr.Append(err, closer())
	}
	in, err := intf.InEndpoint(inNum)
	if err != nil {
		return nil, multierr.Append(err, closer())
	}
	return NewPipe(out, in, 64*in.Desc.MaxPacketSize, closer), nil
}
