package ble

import "strings"

// servicePatternSuffix is the tail shared by the vendor control service UUID
// across all supported device generations. The leading segment varies per
// generation but always starts with "4" and contains the "0001" marker that
// the characteristic UUIDs are derived from.
const servicePatternSuffix = "-4bd4-bbd5-a6920e4c5653"

// serviceMarker is the segment replaced to derive characteristic UUIDs.
const (
	serviceMarker = "0001"
	txMarker      = "0002" // command write
	rxMarker      = "0003" // notify
)

// isControlService reports whether uuid (any casing) is the vendor control
// service for one of the supported device generations.
func isControlService(uuid string) bool {
	u := strings.ToLower(uuid)
	return strings.HasSuffix(u, servicePatternSuffix) &&
		strings.HasPrefix(u, "4") &&
		strings.Contains(u, serviceMarker)
}

// deriveCharacteristics maps a control service UUID to its TX and RX
// characteristic UUIDs. The mapping replaces the "0001" marker in the service
// UUID with "0002" (TX) and "0003" (RX); results are lowercase.
func deriveCharacteristics(serviceUUID string) (tx, rx string) {
	u := strings.ToLower(serviceUUID)
	tx = strings.Replace(u, serviceMarker, txMarker, 1)
	rx = strings.Replace(u, serviceMarker, rxMarker, 1)
	return tx, rx
}
