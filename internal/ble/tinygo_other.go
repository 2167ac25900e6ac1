//go:build !linux && !darwin

package ble

import "fmt"

func (c *tinyGoCharacteristic) writeWithResponse([]byte) error {
	return fmt.Errorf("%w: write with response", ErrUnsupported)
}

func (c *tinyGoCharacteristic) read() ([]byte, error) {
	return nil, fmt.Errorf("%w: characteristic read", ErrUnsupported)
}
