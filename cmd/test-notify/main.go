// Command test-notify is a manual test for the cane's notify characteristic.
// It connects straight through the radio adapter, bypassing reassembly, and
// prints every notification chunk as it arrives so firmware framing can be
// checked by eye. Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-notify -device ADDR [-timeout 15s]
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/canelink/internal/ble"
)

func main() {
	device := flag.String("device", "", "device address")
	timeout := flag.Duration("timeout", ble.DefaultConnectTimeout, "connect timeout")
	flag.Parse()

	if *device == "" {
		fmt.Println("Error: -device is required")
		os.Exit(2)
	}

	adapter := ble.NewTinyGoAdapter()
	if err := adapter.Enable(); err != nil {
		fmt.Printf("Error: enable adapter: %v\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	conn, err := adapter.Connect(ctx, *device)
	cancel()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer conn.Disconnect()

	chars, err := conn.DiscoverCharacteristics(ble.DefaultServiceUUID, ble.DefaultNotifyCharUUID)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	notify := chars[0]

	dropped := make(chan struct{})
	conn.OnDisconnect(func() { close(dropped) })

	start := time.Now()
	if err := notify.Subscribe(func(data []byte) {
		fmt.Printf("+%-8s %3dB  %-40s %q\n", time.Since(start).Round(time.Millisecond), len(data), hex.EncodeToString(data), data)
	}); err != nil {
		fmt.Printf("Error: subscribe: %v\n", err)
		return
	}
	defer notify.Unsubscribe()

	fmt.Printf("Connected to %s, waiting for notifications...\n", *device)
	fmt.Println("Press Ctrl+C to exit.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		fmt.Println("\nDone!")
	case <-dropped:
		fmt.Println("\nLink lost.")
	}
}
