package packets

// NewFixedHeader returns a fresh fixed header for a given packet type,
// setting the flag bits that are fixed by the spec (PUBREL, SUBSCRIBE and
// UNSUBSCRIBE always carry QoS 1 in their fixed header flags).
func NewFixedHeader(packetType byte) FixedHeader {
	fh := FixedHeader{
		Type: packetType,
	}
	if packetType == Pubrel || packetType == Subscribe || packetType == Unsubscribe {
		fh.Qos = 1
	}

	return fh
}
