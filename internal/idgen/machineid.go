package idgen

import "net"

// MachineID derives a stable machine id from the hardware address of
// the first usable non-loopback interface: the last two MAC bytes,
// bounded to the 10-bit machine-id width. Returns 0 when no interface
// qualifies, so a single-node deployment still works.
func MachineID() int64 {
	ifaces, err := net.Interfaces()
	if err != nil {
		return 0
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		mac := iface.HardwareAddr
		if len(mac) < 2 {
			continue
		}
		raw := int64(mac[len(mac)-2])<<8 | int64(mac[len(mac)-1])
		return raw % (MaxMachineID + 1)
	}
	return 0
}
