package networkmessage

// OffsetType names a kind of mutable byte range inside an encoded
// NetworkMessage that a real-time WriterGroup rewrites every publish cycle
// without re-running Encode.
type OffsetType int

const (
	OffsetNetworkMessageSequenceNumber OffsetType = iota
	OffsetDataSetMessageSequenceNumber
	OffsetDataSetFieldRaw
	OffsetTimestamp
)

// OffsetEntry locates one mutable field within a baseline-encoded buffer.
// Component is the DataSetMessage index (zero for network-message-level
// entries); FieldIndex is the RawFields index, meaningful only for
// OffsetDataSetFieldRaw.
type OffsetEntry struct {
	Type       OffsetType
	ByteOffset int
	Component  int
	FieldIndex int
}

// OffsetTable is the baseline encoding of a FIXED_SIZE NetworkMessage plus
// the list of byte ranges a publish cycle is allowed to touch. Two
// successive cycles produced via the Set* methods below are byte-identical
// except at these offsets.
type OffsetTable struct {
	Baseline []byte
	Entries  []OffsetEntry
}

// BuildOffsetTable encodes nm once, recording the byte offset of every
// mutable field as it is written. The returned table's Baseline is a full,
// valid NetworkMessage encoding that subsequent publish cycles mutate in
// place via the Set* helpers instead of re-encoding from scratch.
func BuildOffsetTable(nm NetworkMessage) (OffsetTable, error) {
	var table OffsetTable
	buf, err := encodeInto(make([]byte, 0, 64), nm, &table)
	if err != nil {
		return OffsetTable{}, err
	}
	table.Baseline = buf
	return table, nil
}

func (t *OffsetTable) find(typ OffsetType, component, fieldIndex int) (int, bool) {
	for _, e := range t.Entries {
		if e.Type != typ || e.Component != component {
			continue
		}
		if typ == OffsetDataSetFieldRaw && e.FieldIndex != fieldIndex {
			continue
		}
		return e.ByteOffset, true
	}
	return 0, false
}

// SetNetworkMessageSequenceNumber overwrites the network-message-level
// sequence number in place. Reports false if the baseline has no such
// field (MaskSequenceNumber was clear at BuildOffsetTable time).
func (t *OffsetTable) SetNetworkMessageSequenceNumber(seq uint16) bool {
	off, ok := t.find(OffsetNetworkMessageSequenceNumber, 0, 0)
	if !ok {
		return false
	}
	putUint16(t.Baseline, off, seq)
	return true
}

// SetDataSetMessageSequenceNumber overwrites the sequence number of the
// DataSetMessage at the given index in place.
func (t *OffsetTable) SetDataSetMessageSequenceNumber(msgIndex int, seq uint16) bool {
	off, ok := t.find(OffsetDataSetMessageSequenceNumber, msgIndex, 0)
	if !ok {
		return false
	}
	putUint16(t.Baseline, off, seq)
	return true
}

// SetDataSetFieldRaw overwrites the raw bytes of one field in place. value
// must be exactly as long as the field was when BuildOffsetTable ran;
// returns false on any mismatch (unknown location, or length drift).
func (t *OffsetTable) SetDataSetFieldRaw(msgIndex, fieldIndex int, value []byte) bool {
	off, ok := t.find(OffsetDataSetFieldRaw, msgIndex, fieldIndex)
	if !ok {
		return false
	}
	if off+len(value) > len(t.Baseline) {
		return false
	}
	// the length prefix immediately preceding this offset fixes the field's
	// byte length for the table's lifetime; a mismatched value length would
	// silently corrupt neighboring fields, so refuse it instead.
	if off >= 2 {
		want := int(t.Baseline[off-2]) | int(t.Baseline[off-1])<<8
		if want != len(value) {
			return false
		}
	}
	copy(t.Baseline[off:off+len(value)], value)
	return true
}

// SetTimestamp overwrites the timestamp (unix nanoseconds) of the
// DataSetMessage at the given index in place.
func (t *OffsetTable) SetTimestamp(msgIndex int, unixNano int64) bool {
	off, ok := t.find(OffsetTimestamp, msgIndex, 0)
	if !ok {
		return false
	}
	putUint64(t.Baseline, off, uint64(unixNano))
	return true
}

func putUint16(buf []byte, off int, v uint16) {
	buf[off] = byte(v)
	buf[off+1] = byte(v >> 8)
}

func putUint64(buf []byte, off int, v uint64) {
	for i := 0; i < 8; i++ {
		buf[off+i] = byte(v >> (8 * i))
	}
}
