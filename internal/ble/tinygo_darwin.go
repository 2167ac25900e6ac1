//go:build darwin

package ble

import "fmt"

func (c *tinyGoCharacteristic) writeWithResponse(data []byte) error {
	_, err := c.char.Write(data)
	return err
}

// CoreBluetooth support in tinygo/bluetooth has no characteristic read.
func (c *tinyGoCharacteristic) read() ([]byte, error) {
	return nil, fmt.Errorf("%w: characteristic read", ErrUnsupported)
}
