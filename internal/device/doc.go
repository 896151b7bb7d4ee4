// Package device defines the platform-neutral view of the BLE stack used by the
// JSON-RPC transport: the fixed GATT service descriptor, the central/link/
// characteristic abstractions implemented by each backend, and the error
// taxonomy shared by the scanner, the session and the host facade.
//
// Backends live in sub-packages:
//   - go-ble: github.com/go-ble/ble (CoreBluetooth on macOS, HCI sockets on Linux)
//   - tinygo: tinygo.org/x/bluetooth (CoreBluetooth, BlueZ over D-Bus, WinRT)
//   - bluez: a PermissionGate backed by the BlueZ adapter over D-Bus
package device
