package find

import (
	"os"
	"path/filepath"
	"testing"
)

func mkfiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func symlink(t *testing.T, target, link string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}
}

// fakeSysfs builds a sysfs tree with a Prologix on ttyUSB0 (usb-serial
// layout), an Arduino on ttyACM0 (cdc-acm layout) and a legacy ttyS0.
func fakeSysfs(t *testing.T) {
	root := t.TempDir()
	usb := filepath.Join(root, "devices", "pci0000:00", "usb1")

	ftdi := filepath.Join(usb, "1-2")
	mkfiles(t, ftdi, map[string]string{
		"idVendor": "0403", "idProduct": "6001",
		"manufacturer": "Prologix", "product": "Prologix GPIB-USB Controller", "serial": "PXEGS1XT",
	})
	node := filepath.Join(ftdi, "1-2:1.0", "ttyUSB0")
	mkfiles(t, filepath.Join(node, "tty", "ttyUSB0"), nil)
	symlink(t, "../..", filepath.Join(node, "tty", "ttyUSB0", "device"))
	symlink(t, filepath.Join(node, "tty", "ttyUSB0"), filepath.Join(root, "class", "tty", "ttyUSB0"))

	acm := filepath.Join(usb, "1-3")
	mkfiles(t, acm, map[string]string{
		"idVendor": "2341", "idProduct": "0043",
		"manufacturer": "Arduino (www.arduino.cc)", "serial": "85736323838351F0E1C1",
	})
	iface := filepath.Join(acm, "1-3:1.0")
	mkfiles(t, filepath.Join(iface, "tty", "ttyACM0"), nil)
	symlink(t, "../..", filepath.Join(iface, "tty", "ttyACM0", "device"))
	symlink(t, filepath.Join(iface, "tty", "ttyACM0"), filepath.Join(root, "class", "tty", "ttyACM0"))

	legacy := filepath.Join(root, "devices", "platform", "serial8250", "tty", "ttyS0")
	mkfiles(t, legacy, nil)
	symlink(t, legacy, filepath.Join(root, "class", "tty", "ttyS0"))
	mkfiles(t, filepath.Join(root, "class", "tty"), map[string]string{"README": "not a link"})

	old := SysRoot
	SysRoot = root
	t.Cleanup(func() { SysRoot = old })
}

func TestPorts(t *testing.T) {
	fakeSysfs(t)
	ports, err := Ports()
	if err != nil {
		t.Fatal(err)
	}
	if len(ports) != 2 {
		t.Fatalf("found %d usb ttys, want 2:\n%s", len(ports), describe(ports))
	}
	byName := map[string]Port{}
	for _, p := range ports {
		byName[p.Name] = p
	}
	if p := byName["ttyUSB0"]; p.Vendor != "0403" || p.Serial != "PXEGS1XT" || !Prologix(p) {
		t.Errorf("ttyUSB0 = %s", p)
	}
	if p := byName["ttyACM0"]; p.Vendor != "2341" || !Arduino(p) || Prologix(p) {
		t.Errorf("ttyACM0 = %s", p)
	}
}

func TestFind(t *testing.T) {
	fakeSysfs(t)
	tests := []struct {
		name   string
		filter Filter
		want   string
		err    bool
	}{
		{"prologix", Prologix, "/dev/ttyUSB0", false},
		{"arduino", Arduino, "/dev/ttyACM0", false},
		{"serial", Serial("85736323838351F0E1C1"), "/dev/ttyACM0", false},
		{"any", Any(Serial("x"), Prologix), "/dev/ttyUSB0", false},
		{"no match", Serial("nope"), "", true},
		{"ambiguous", nil, "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Find(tc.filter)
			if (err != nil) != tc.err {
				t.Fatalf("error = %v", err)
			}
			if got != tc.want {
				t.Errorf("Find = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMissingSysfs(t *testing.T) {
	old := SysRoot
	SysRoot = filepath.Join(t.TempDir(), "nonexistent")
	t.Cleanup(func() { SysRoot = old })
	if _, err := Ports(); err == nil {
		t.Error("missing sysfs accepted")
	}
	if _, err := Adapter(); err == nil {
		t.Error("adapter found without sysfs")
	}
}
