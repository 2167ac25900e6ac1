//go:build linux

package ble

import "fmt"

// readBufferSize fits the largest ATT attribute value.
const readBufferSize = 512

// BlueZ support in tinygo/bluetooth only writes without response.
func (c *tinyGoCharacteristic) writeWithResponse([]byte) error {
	return fmt.Errorf("%w: write with response (set ble.write_with_response: false)", ErrUnsupported)
}

func (c *tinyGoCharacteristic) read() ([]byte, error) {
	buf := make([]byte, readBufferSize)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
