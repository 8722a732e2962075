package anvil

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"
)

// A compressed fragment may not expand to more than 2^14+1024 bytes.
const maxDecompressedRecordLength = maxPlaintextRecordLength + 1024

// compress applies method m to one record payload. Each DEFLATE record is
// a complete zlib stream.
func compress(m CompressionMethod, data []byte) ([]byte, error) {
	switch m {
	case CompressionNull:
		return data, nil
	case CompressionDeflate:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, cryptoError("deflate: %v", err)
		}
		if err := w.Close(); err != nil {
			return nil, cryptoError("deflate: %v", err)
		}
		return buf.Bytes(), nil
	}
	return nil, unsupported("compression method %d", m)
}

func decompress(m CompressionMethod, data []byte) ([]byte, error) {
	switch m {
	case CompressionNull:
		return data, nil
	case CompressionDeflate:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, malformed("inflate: %v", err)
		}
		defer r.Close()
		out, err := io.ReadAll(io.LimitReader(r, maxDecompressedRecordLength+1))
		if err != nil {
			return nil, malformed("inflate: %v", err)
		}
		if len(out) > maxDecompressedRecordLength {
			return nil, malformed("decompressed record exceeds %d bytes", maxDecompressedRecordLength)
		}
		return out, nil
	}
	return nil, unsupported("compression method %d", m)
}
