//go:build !linux

package sensor

import "errors"

func open(pin int) (Line, error) {
	return nil, errors.New("sensor: GPIO interface requires linux")
}
