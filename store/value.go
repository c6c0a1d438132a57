package store

import (
	"encoding/binary"
)

type valueFlags uint64

const (
	vfVerBit0 = valueFlags(1 << iota)
	vfVerBit1
	vfVerBit2
	vfVerBit3

	vfVerMask       = (vfVerBit0 | vfVerBit1 | vfVerBit2 | vfVerBit3)
	vfVer1          = vfVerBit0
	vfSupportedMask = vfVer1
	vfDefault       = vfVer1

	minValueSize = 3
)

// value is a stored row: flags (uvarint), stamp (uvarint), msgpack data.
// The stamp is the version of the commit that last changed the row.
type value struct {
	Flags valueFlags
	Stamp uint64
	Data  []byte
}

func (vf valueFlags) ver() valueFlags {
	return vf & vfVerMask
}

func appendValue(buf []byte, stamp uint64, data []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(vfDefault))
	buf = binary.AppendUvarint(buf, stamp)
	return append(buf, data...)
}

func (vle *value) decode(data []byte) error {
	orig := data
	if len(data) < minValueSize {
		return dataErrf(orig, 0, nil, "invalid value: at least %d bytes required", minValueSize)
	}

	v, n := binary.Uvarint(data)
	if n <= 0 {
		return dataErrf(orig, 0, nil, "invalid value: bad flags")
	}
	if (v & ^uint64(vfSupportedMask)) != 0 {
		return dataErrf(orig, 0, nil, "invalid value: unsupported flags %x", v)
	}
	vle.Flags, data = valueFlags(v), data[n:]
	if vle.Flags.ver() != vfVer1 {
		return dataErrf(orig, 0, nil, "invalid value: unsupported version %d", vle.Flags.ver())
	}

	v, n = binary.Uvarint(data)
	if n <= 0 {
		return dataErrf(orig, len(orig)-len(data), nil, "invalid value: bad mod count")
	}
	vle.Stamp, data = v, data[n:]

	if len(data) == 0 {
		return dataErrf(orig, len(orig), nil, "invalid value: no data")
	}
	vle.Data = data
	return nil
}
