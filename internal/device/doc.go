// Package device defines the platform-neutral BLE contracts used by swlink:
// advertisement scanning, GATT links to a single peripheral, and the error
// taxonomy shared by the watcher, the session state machine and the CLI.
//
// Platform bindings live in the go-ble subpackage; everything above this
// package talks only to the interfaces declared here so it can be driven by
// fakes in tests.
package device
