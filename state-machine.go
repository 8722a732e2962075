package anvil

// Marker interface for actions the connection takes on behalf of a message
// handler. Handlers only decide; Connection.takeAction touches the record
// layer.
type HandshakeAction interface{}

// RekeyIn installs a cipher built from KeySet for reading.
type RekeyIn struct {
	KeySet KeySet
}

// RekeyOut installs a cipher built from KeySet for writing.
type RekeyOut struct {
	KeySet KeySet
}

// ResetIn drops read protection, continuing at seq.
type ResetIn struct {
	seq uint64
}

// ResetOut drops write protection, continuing at seq.
type ResetOut struct {
	seq uint64
}

type StorePSK struct {
	PSK PreSharedKey
}

type SetCompression struct {
	Direction Direction
	Method    CompressionMethod
}
