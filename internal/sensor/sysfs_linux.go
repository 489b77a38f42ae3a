//go:build linux

package sensor

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const gpioRoot = "/sys/class/gpio"

type sysfsLine struct {
	pin       int
	valuePath string
}

// open exports the pin through the sysfs GPIO interface and configures it as
// an input. Export may race with a previous run that never unexported; an
// already-exported pin is fine.
func open(pin int) (Line, error) {
	pinDir := filepath.Join(gpioRoot, fmt.Sprintf("gpio%d", pin))

	if _, err := os.Stat(pinDir); os.IsNotExist(err) {
		exportPath := filepath.Join(gpioRoot, "export")
		if err := os.WriteFile(exportPath, []byte(strconv.Itoa(pin)), 0o200); err != nil {
			return nil, fmt.Errorf("sensor: export pin %d: %w", pin, err)
		}
		// The kernel needs a moment to create the pin directory and fix
		// its permissions after export.
		time.Sleep(100 * time.Millisecond)
	}

	directionPath := filepath.Join(pinDir, "direction")
	if err := os.WriteFile(directionPath, []byte("in"), 0o200); err != nil {
		return nil, fmt.Errorf("sensor: set pin %d direction: %w", pin, err)
	}

	valuePath := filepath.Join(pinDir, "value")
	if _, err := os.ReadFile(valuePath); err != nil {
		return nil, fmt.Errorf("sensor: read pin %d: %w", pin, err)
	}

	return &sysfsLine{pin: pin, valuePath: valuePath}, nil
}

func (l *sysfsLine) Available() bool { return true }

func (l *sysfsLine) Read() (bool, error) {
	data, err := os.ReadFile(l.valuePath)
	if err != nil {
		return false, fmt.Errorf("sensor: read pin %d: %w", l.pin, err)
	}
	return len(bytes.TrimSpace(data)) > 0 && bytes.TrimSpace(data)[0] == '1', nil
}

func (l *sysfsLine) Close() error {
	unexportPath := filepath.Join(gpioRoot, "unexport")
	return os.WriteFile(unexportPath, []byte(strconv.Itoa(l.pin)), 0o200)
}
