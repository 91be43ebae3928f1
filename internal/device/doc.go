// Package device defines the boundary between the headset session core and
// the Bluetooth Low Energy stack that moves bytes over the air.
//
// The package holds:
//   - the fixed GATT profile of the EEG earpiece (services, characteristics, kinds)
//   - the LinkAdapter capability the core calls to scan, connect, discover,
//     read, write and subscribe
//   - the Handler callbacks a LinkAdapter delivers results through
//   - structured connection errors shared by every backend
//
// Concrete adapters live in sub-packages: go-ble (macOS / Linux HCI),
// tinygo (BlueZ, CoreBluetooth, WinRT) and sim (in-memory earpieces).
// Every adapter delivers Handler callbacks on a single serial goroutine, so
// callbacks never run concurrently with each other.
package device
