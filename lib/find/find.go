// Package find locates USB serial adapters, such as the Prologix GPIB-USB
// controller, through sysfs.
package find

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gotmc/mmwave/lib/log"
)

// SysRoot is the sysfs mount point.
var SysRoot = "/sys"

// ErrNotFound is returned by Find when no port matches.
var ErrNotFound = errors.New("no matching usb tty")

// Port is a tty provided by a USB device.
type Port struct {
	Name    string // ttyUSB0, ttyACM0
	SysPath string // resolved sysfs directory of the tty

	Vendor, Product string // hex USB ids
	Manufacturer    string
	Description     string // USB product string
	Serial          string
}

// Device returns the /dev node of the port.
func (p Port) Device() string { return "/dev/" + p.Name }

func (p Port) String() string {
	return fmt.Sprintf("%s %s:%s %q %q serial %s", p.Device(), p.Vendor, p.Product, p.Manufacturer, p.Description, p.Serial)
}

// Filter selects ports.
type Filter func(Port) bool

// Prologix matches the FTDI chip of a Prologix GPIB-USB controller.
func Prologix(p Port) bool {
	return strings.Contains(p.Description, "Prologix") ||
		strings.Contains(p.Manufacturer, "Prologix") ||
		(p.Vendor == "0403" && p.Product == "6001" && strings.HasPrefix(p.Serial, "PX"))
}

// Arduino matches an AR488 built on an Arduino.
func Arduino(p Port) bool {
	return strings.Contains(p.Manufacturer, "Arduino")
}

// Serial matches the USB serial number s.
func Serial(s string) Filter {
	return func(p Port) bool { return p.Serial == s }
}

// Any matches when one of filters does.
func Any(filters ...Filter) Filter {
	return func(p Port) bool {
		for _, f := range filters {
			if f(p) {
				return true
			}
		}
		return false
	}
}

// Adapter finds a Prologix or AR488 GPIB adapter.
func Adapter() (string, error) {
	return Find(Any(Prologix, Arduino))
}

// Find returns the /dev path of the first port accepted by filter. With a
// nil filter there must be exactly one USB tty.
func Find(filter Filter) (string, error) {
	ports, err := Ports()
	if err != nil {
		return "", err
	}
	if filter == nil {
		switch len(ports) {
		case 0:
			return "", ErrNotFound
		case 1:
			return ports[0].Device(), nil
		}
		return "", fmt.Errorf("%d usb ttys, cannot choose:\n%s", len(ports), describe(ports))
	}
	for _, p := range ports {
		if filter(p) {
			return p.Device(), nil
		}
	}
	return "", ErrNotFound
}

func describe(ports []Port) string {
	s := make([]string, len(ports))
	for i, p := range ports {
		s[i] = "  " + p.String()
	}
	return strings.Join(s, "\n")
}

// Ports lists the ttys of USB devices, from SysRoot/class/tty and the
// device directories its links point to.
func Ports() ([]Port, error) {
	root, err := filepath.EvalSymlinks(SysRoot)
	if err != nil {
		return nil, err
	}
	class := filepath.Join(root, "class", "tty")
	entries, err := os.ReadDir(class)
	if err != nil {
		return nil, err
	}
	var ports []Port
	for _, e := range entries {
		if e.Type()&fs.ModeSymlink == 0 {
			continue
		}
		// /sys/class/tty/ttyACM0 ->
		// /sys/devices/pci0000:00/0000:00:01.3/0000:02:00.0/usb1/1-10/1-10:1.0/tty/ttyACM0
		link := filepath.Join(class, e.Name())
		dir, err := filepath.EvalSymlinks(link)
		if err != nil {
			log.Warnf("%s: %s", link, err)
			continue
		}
		if !strings.Contains(strings.TrimPrefix(dir, root), "usb") {
			continue
		}
		dev, err := filepath.EvalSymlinks(filepath.Join(dir, "device"))
		if err != nil {
			log.Warnf("%s: no device link: %s", dir, err)
			continue
		}
		p := Port{Name: e.Name(), SysPath: dir}
		if err := p.readAttrs(usbDevice(dev, root)); err != nil {
			log.Warnf("%s: %s", dir, err)
		}
		ports = append(ports, p)
	}
	return ports, nil
}

// usbDevice walks up from the tty's device link to the USB device. For
// cdc-acm the link is the interface, for usb-serial drivers the ttyUSBn
// node; either way the strings live on the first ancestor with idVendor.
func usbDevice(dir, root string) string {
	for d := dir; len(d) > len(root); d = filepath.Dir(d) {
		if _, err := os.Stat(filepath.Join(d, "idVendor")); err == nil {
			return d
		}
	}
	return filepath.Dir(dir)
}

// readAttrs fills the USB ids and strings from dev. Missing files are
// ignored; the last other error is returned after reading everything.
func (p *Port) readAttrs(dev string) (err error) {
	read := func(name string) string {
		b, rerr := os.ReadFile(filepath.Join(dev, name))
		if rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			err = rerr
		}
		return strings.TrimSpace(string(b))
	}
	p.Vendor = read("idVendor")
	p.Product = read("idProduct")
	p.Manufacturer = read("manufacturer")
	p.Description = read("product")
	p.Serial = read("serial")
	return err
}
