package decode

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// SafeInflateMax is the hard cap on decompressed size, guarding against
// zlib bombs in /producer/properties control payloads.
const SafeInflateMax = 10 * 1024 * 1024 // 10 MiB

// ErrInflateTooLarge is returned when the decompressed stream would exceed
// SafeInflateMax.
var ErrInflateTooLarge = fmt.Errorf("inflated payload exceeds safe size limit")

// SafeInflate decompresses a zlib stream, refusing to produce more than
// SafeInflateMax bytes. It reads one byte past the cap to detect overflow
// without buffering unbounded attacker-controlled output.
func SafeInflate(compressed []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("zlib reader: %w", err)
	}
	defer zr.Close()

	limited := io.LimitReader(zr, SafeInflateMax+1)
	out, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("zlib inflate: %w", err)
	}
	if len(out) > SafeInflateMax {
		return nil, ErrInflateTooLarge
	}
	return out, nil
}

// ParseProducerProperties decodes a `/producer/properties` control payload:
// a 4-byte big-endian uncompressed-size prefix followed by a zlib stream
// whose decompressed body is a `;`-separated list of `interface/path`
// tokens. The literal 4-byte payload <<0,0,0,0>> means "prune to the empty
// set" and decodes to an empty, non-nil set.
func ParseProducerProperties(payload []byte) (map[InterfacePath]struct{}, error) {
	if len(payload) == 4 && bytes.Equal(payload, []byte{0, 0, 0, 0}) {
		return map[InterfacePath]struct{}{}, nil
	}
	if len(payload) < 4 {
		return nil, fmt.Errorf("invalid_properties: payload too short for size prefix")
	}

	declaredSize := binary.BigEndian.Uint32(payload[:4])
	compressed := payload[4:]

	inflated, err := SafeInflate(compressed)
	if err != nil {
		return nil, fmt.Errorf("invalid_properties: %w", err)
	}
	if uint32(len(inflated)) != declaredSize {
		return nil, fmt.Errorf("invalid_properties: declared size %d does not match inflated size %d", declaredSize, len(inflated))
	}

	return parsePropertyList(string(inflated))
}

// InterfacePath identifies a single property path within an interface.
type InterfacePath struct {
	Interface string
	Path      string
}

// parsePropertyList parses "iface1/path1;iface2/path2;..." into a set of
// {interface, "/path"} pairs. An empty string decodes to an empty set.
func parsePropertyList(s string) (map[InterfacePath]struct{}, error) {
	out := make(map[InterfacePath]struct{})
	if s == "" {
		return out, nil
	}
	for _, token := range strings.Split(s, ";") {
		if token == "" {
			continue
		}
		slash := strings.IndexByte(token, '/')
		if slash < 0 {
			return nil, fmt.Errorf("invalid_properties: malformed token %q", token)
		}
		iface := token[:slash]
		path := token[slash:]
		if iface == "" || path == "/" {
			return nil, fmt.Errorf("invalid_properties: malformed token %q", token)
		}
		out[InterfacePath{Interface: iface, Path: path}] = struct{}{}
	}
	return out, nil
}

// BuildConsumerPropertiesPayload is the inverse used by the server to tell
// the device which absolute property paths it currently holds: 4-byte BE
// uncompressed size + zlib of the `;`-joined absolute paths.
func BuildConsumerPropertiesPayload(absolutePaths []string) ([]byte, error) {
	joined := strings.Join(absolutePaths, ";")

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write([]byte(joined)); err != nil {
		return nil, fmt.Errorf("zlib write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zlib close: %w", err)
	}

	out := make([]byte, 4+buf.Len())
	binary.BigEndian.PutUint32(out[:4], uint32(len(joined)))
	copy(out[4:], buf.Bytes())
	return out, nil
}
