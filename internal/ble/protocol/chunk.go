package protocol

// DefaultMTUPayload is the notification payload size for the minimum BLE
// ATT MTU (23 bytes minus the 3-byte ATT header).
const DefaultMTUPayload = 20

// SplitPayload splits data into pieces of at most mtu bytes, the way a
// peripheral pushes a long value through successive notifications.
// Returns nil for empty data or a non-positive mtu.
func SplitPayload(data []byte, mtu int) [][]byte {
	if len(data) == 0 || mtu <= 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(data)+mtu-1)/mtu)
	for len(data) > 0 {
		n := mtu
		if len(data) < n {
			n = len(data)
		}
		chunk := make([]byte, n)
		copy(chunk, data[:n])
		chunks = append(chunks, chunk)
		data = data[n:]
	}
	return chunks
}
