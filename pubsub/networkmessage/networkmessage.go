// Package networkmessage implements the UADP NetworkMessage codec used by
// PubSub WriterGroups and ReaderGroups: a content-masked header followed by
// one or more DataSetMessages, little-endian throughout. Grounded on the
// wire layout in spec §4.7/§6 and, for the RT fixed-size publish path, on
// OffsetTable (offsettable.go) for the "write only the bytes that changed"
// discipline a real-time WriterGroup needs.
//
// Simplification, recorded for the grounding ledger: DataSetMessage field
// values here are always length-prefixed RawData (no Variant/DeltaFrame
// encodings), since the only RT scenario this module targets (a FIXED_SIZE
// WriterGroup of raw scalar fields) never needs them; that keeps every
// field's byte length constant across publish cycles, which the OffsetTable
// contract depends on.
package networkmessage

import (
	"encoding/binary"

	"github.com/uacore/eventcore/status"
)

// ContentMask gates which optional header fields are present on the wire.
type ContentMask uint16

const (
	MaskPublisherID ContentMask = 1 << iota
	MaskGroupHeader
	MaskWriterGroupID
	MaskGroupVersion
	MaskNetworkMessageNumber
	MaskSequenceNumber
	MaskPayloadHeader
	MaskTimestamp
	MaskPicoSeconds
	MaskDataSetClassID
)

// publisherIDKind tags which variant arm PublisherID carries on the wire;
// written as one leading byte whenever MaskPublisherID is set.
type publisherIDKind byte

const (
	publisherIDByte publisherIDKind = iota
	publisherIDUInt16
	publisherIDUInt32
	publisherIDUInt64
	publisherIDString
)

// Header is the content-masked fixed+group+payload header of a
// NetworkMessage.
type Header struct {
	Mask ContentMask

	// PublisherID holds one of byte, uint16, uint32, uint64, or string; nil
	// if MaskPublisherID is clear.
	PublisherID any

	DataSetClassID [16]byte

	WriterGroupID        uint16
	GroupVersion         uint32
	NetworkMessageNumber uint16
	SequenceNumber       uint16

	DataSetWriterIDs []uint16
}

// DataSetMessage is one dataset's worth of RawData-encoded field values,
// each field prefixed with a 2-byte length so Decode can round-trip without
// an external schema.
type DataSetMessage struct {
	HasSequenceNumber bool
	SequenceNumber    uint16

	HasTimestamp bool
	TimestampUnixNano int64

	RawFields [][]byte
}

// NetworkMessage is the full decoded wire message.
type NetworkMessage struct {
	Header   Header
	Messages []DataSetMessage
}

func encodePublisherID(buf []byte, id any) ([]byte, error) {
	switch v := id.(type) {
	case byte:
		return append(buf, byte(publisherIDByte), v), nil
	case uint16:
		buf = append(buf, byte(publisherIDUInt16))
		return binary.LittleEndian.AppendUint16(buf, v), nil
	case uint32:
		buf = append(buf, byte(publisherIDUInt32))
		return binary.LittleEndian.AppendUint32(buf, v), nil
	case uint64:
		buf = append(buf, byte(publisherIDUInt64))
		return binary.LittleEndian.AppendUint64(buf, v), nil
	case string:
		buf = append(buf, byte(publisherIDString))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v)))
		return append(buf, v...), nil
	default:
		return nil, status.Newf(status.InvalidArgument, "networkmessage: unsupported publisher id type %T", id)
	}
}

func decodePublisherID(buf []byte) (any, []byte, error) {
	if len(buf) < 1 {
		return nil, nil, status.New(status.InvalidArgument, "networkmessage: truncated publisher id")
	}
	kind := publisherIDKind(buf[0])
	buf = buf[1:]
	switch kind {
	case publisherIDByte:
		if len(buf) < 1 {
			return nil, nil, status.New(status.InvalidArgument, "networkmessage: truncated publisher id (byte)")
		}
		return buf[0], buf[1:], nil
	case publisherIDUInt16:
		if len(buf) < 2 {
			return nil, nil, status.New(status.InvalidArgument, "networkmessage: truncated publisher id (uint16)")
		}
		return binary.LittleEndian.Uint16(buf), buf[2:], nil
	case publisherIDUInt32:
		if len(buf) < 4 {
			return nil, nil, status.New(status.InvalidArgument, "networkmessage: truncated publisher id (uint32)")
		}
		return binary.LittleEndian.Uint32(buf), buf[4:], nil
	case publisherIDUInt64:
		if len(buf) < 8 {
			return nil, nil, status.New(status.InvalidArgument, "networkmessage: truncated publisher id (uint64)")
		}
		return binary.LittleEndian.Uint64(buf), buf[8:], nil
	case publisherIDString:
		if len(buf) < 4 {
			return nil, nil, status.New(status.InvalidArgument, "networkmessage: truncated publisher id (string length)")
		}
		n := binary.LittleEndian.Uint32(buf)
		buf = buf[4:]
		if uint32(len(buf)) < n {
			return nil, nil, status.New(status.InvalidArgument, "networkmessage: truncated publisher id (string)")
		}
		return string(buf[:n]), buf[n:], nil
	default:
		return nil, nil, status.Newf(status.InvalidArgument, "networkmessage: unknown publisher id kind %d", kind)
	}
}

func encodeDataSetMessage(buf []byte, dsm DataSetMessage) []byte {
	var flags byte
	if dsm.HasSequenceNumber {
		flags |= 1
	}
	if dsm.HasTimestamp {
		flags |= 2
	}
	buf = append(buf, flags)
	if dsm.HasSequenceNumber {
		buf = binary.LittleEndian.AppendUint16(buf, dsm.SequenceNumber)
	}
	if dsm.HasTimestamp {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(dsm.TimestampUnixNano))
	}
	buf = append(buf, byte(len(dsm.RawFields)))
	for _, f := range dsm.RawFields {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(f)))
		buf = append(buf, f...)
	}
	return buf
}

func decodeDataSetMessage(buf []byte) (DataSetMessage, []byte, error) {
	if len(buf) < 2 {
		return DataSetMessage{}, nil, status.New(status.InvalidArgument, "networkmessage: truncated dataset message")
	}
	var dsm DataSetMessage
	flags := buf[0]
	buf = buf[1:]
	dsm.HasSequenceNumber = flags&1 != 0
	dsm.HasTimestamp = flags&2 != 0

	if dsm.HasSequenceNumber {
		if len(buf) < 2 {
			return DataSetMessage{}, nil, status.New(status.InvalidArgument, "networkmessage: truncated dataset sequence number")
		}
		dsm.SequenceNumber = binary.LittleEndian.Uint16(buf)
		buf = buf[2:]
	}
	if dsm.HasTimestamp {
		if len(buf) < 8 {
			return DataSetMessage{}, nil, status.New(status.InvalidArgument, "networkmessage: truncated dataset timestamp")
		}
		dsm.TimestampUnixNano = int64(binary.LittleEndian.Uint64(buf))
		buf = buf[8:]
	}
	if len(buf) < 1 {
		return DataSetMessage{}, nil, status.New(status.InvalidArgument, "networkmessage: truncated dataset field count")
	}
	n := int(buf[0])
	buf = buf[1:]
	dsm.RawFields = make([][]byte, n)
	for i := 0; i < n; i++ {
		if len(buf) < 2 {
			return DataSetMessage{}, nil, status.New(status.InvalidArgument, "networkmessage: truncated field length")
		}
		fl := int(binary.LittleEndian.Uint16(buf))
		buf = buf[2:]
		if len(buf) < fl {
			return DataSetMessage{}, nil, status.New(status.InvalidArgument, "networkmessage: truncated field bytes")
		}
		dsm.RawFields[i] = buf[:fl:fl]
		buf = buf[fl:]
	}
	return dsm, buf, nil
}

// Encode serializes nm per its Header.Mask.
func Encode(nm NetworkMessage) ([]byte, error) {
	buf := make([]byte, 0, 64)
	var err error
	buf, err = encodeInto(buf, nm, nil)
	return buf, err
}

// encodeInto writes nm to buf, optionally recording every mutable field's
// byte offset into record (used by BuildOffsetTable; nil for a plain
// Encode).
func encodeInto(buf []byte, nm NetworkMessage, record *OffsetTable) ([]byte, error) {
	h := nm.Header
	buf = binary.LittleEndian.AppendUint16(buf, uint16(h.Mask))

	if h.Mask&MaskPublisherID != 0 {
		var err error
		buf, err = encodePublisherID(buf, h.PublisherID)
		if err != nil {
			return nil, err
		}
	}
	if h.Mask&MaskDataSetClassID != 0 {
		buf = append(buf, h.DataSetClassID[:]...)
	}
	if h.Mask&MaskGroupHeader != 0 {
		if h.Mask&MaskWriterGroupID != 0 {
			buf = binary.LittleEndian.AppendUint16(buf, h.WriterGroupID)
		}
		if h.Mask&MaskGroupVersion != 0 {
			buf = binary.LittleEndian.AppendUint32(buf, h.GroupVersion)
		}
		if h.Mask&MaskNetworkMessageNumber != 0 {
			buf = binary.LittleEndian.AppendUint16(buf, h.NetworkMessageNumber)
		}
		if h.Mask&MaskSequenceNumber != 0 {
			if record != nil {
				record.Entries = append(record.Entries, OffsetEntry{Type: OffsetNetworkMessageSequenceNumber, ByteOffset: len(buf)})
			}
			buf = binary.LittleEndian.AppendUint16(buf, h.SequenceNumber)
		}
	}
	if h.Mask&MaskPayloadHeader != 0 {
		buf = append(buf, byte(len(h.DataSetWriterIDs)))
		for _, id := range h.DataSetWriterIDs {
			buf = binary.LittleEndian.AppendUint16(buf, id)
		}
	}

	buf = append(buf, byte(len(nm.Messages)))
	for i, dsm := range nm.Messages {
		if record == nil {
			buf = encodeDataSetMessage(buf, dsm)
			continue
		}
		buf = encodeDataSetMessageTracked(buf, dsm, i, record)
	}
	return buf, nil
}

// encodeDataSetMessageTracked is encodeDataSetMessage instrumented to
// record each DataSetMessage's mutable byte offsets (sequence number and
// raw field bytes) into record.
func encodeDataSetMessageTracked(buf []byte, dsm DataSetMessage, msgIndex int, record *OffsetTable) []byte {
	var flags byte
	if dsm.HasSequenceNumber {
		flags |= 1
	}
	if dsm.HasTimestamp {
		flags |= 2
	}
	buf = append(buf, flags)
	if dsm.HasSequenceNumber {
		record.Entries = append(record.Entries, OffsetEntry{Type: OffsetDataSetMessageSequenceNumber, ByteOffset: len(buf), Component: msgIndex})
		buf = binary.LittleEndian.AppendUint16(buf, dsm.SequenceNumber)
	}
	if dsm.HasTimestamp {
		record.Entries = append(record.Entries, OffsetEntry{Type: OffsetTimestamp, ByteOffset: len(buf), Component: msgIndex})
		buf = binary.LittleEndian.AppendUint64(buf, uint64(dsm.TimestampUnixNano))
	}
	buf = append(buf, byte(len(dsm.RawFields)))
	for fi, f := range dsm.RawFields {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(f)))
		record.Entries = append(record.Entries, OffsetEntry{Type: OffsetDataSetFieldRaw, ByteOffset: len(buf), Component: msgIndex, FieldIndex: fi})
		buf = append(buf, f...)
	}
	return buf
}

// Decode fully parses buf into a NetworkMessage.
func Decode(buf []byte) (NetworkMessage, error) {
	h, rest, err := decodeHeaderAndPayloadHeader(buf)
	if err != nil {
		return NetworkMessage{}, err
	}
	nm := NetworkMessage{Header: h}
	if len(rest) < 1 {
		return NetworkMessage{}, status.New(status.InvalidArgument, "networkmessage: truncated message count")
	}
	n := int(rest[0])
	rest = rest[1:]
	for i := 0; i < n; i++ {
		var dsm DataSetMessage
		dsm, rest, err = decodeDataSetMessage(rest)
		if err != nil {
			return NetworkMessage{}, err
		}
		nm.Messages = append(nm.Messages, dsm)
	}
	return nm, nil
}

// DecodeHeaders parses only enough of buf to learn
// {publisherId, writerGroupId, dataSetWriterIds}, letting a receiver
// identify which reader(s) should bind to this message before paying for a
// full Decode.
func DecodeHeaders(buf []byte) (Header, error) {
	h, _, err := decodeHeaderAndPayloadHeader(buf)
	return h, err
}

func decodeHeaderAndPayloadHeader(buf []byte) (Header, []byte, error) {
	if len(buf) < 2 {
		return Header{}, nil, status.New(status.InvalidArgument, "networkmessage: truncated content mask")
	}
	h := Header{Mask: ContentMask(binary.LittleEndian.Uint16(buf))}
	buf = buf[2:]

	var err error
	if h.Mask&MaskPublisherID != 0 {
		h.PublisherID, buf, err = decodePublisherID(buf)
		if err != nil {
			return Header{}, nil, err
		}
	}
	if h.Mask&MaskDataSetClassID != 0 {
		if len(buf) < 16 {
			return Header{}, nil, status.New(status.InvalidArgument, "networkmessage: truncated dataset class id")
		}
		copy(h.DataSetClassID[:], buf[:16])
		buf = buf[16:]
	}
	if h.Mask&MaskGroupHeader != 0 {
		if h.Mask&MaskWriterGroupID != 0 {
			if len(buf) < 2 {
				return Header{}, nil, status.New(status.InvalidArgument, "networkmessage: truncated writer group id")
			}
			h.WriterGroupID = binary.LittleEndian.Uint16(buf)
			buf = buf[2:]
		}
		if h.Mask&MaskGroupVersion != 0 {
			if len(buf) < 4 {
				return Header{}, nil, status.New(status.InvalidArgument, "networkmessage: truncated group version")
			}
			h.GroupVersion = binary.LittleEndian.Uint32(buf)
			buf = buf[4:]
		}
		if h.Mask&MaskNetworkMessageNumber != 0 {
			if len(buf) < 2 {
				return Header{}, nil, status.New(status.InvalidArgument, "networkmessage: truncated network message number")
			}
			h.NetworkMessageNumber = binary.LittleEndian.Uint16(buf)
			buf = buf[2:]
		}
		if h.Mask&MaskSequenceNumber != 0 {
			if len(buf) < 2 {
				return Header{}, nil, status.New(status.InvalidArgument, "networkmessage: truncated sequence number")
			}
			h.SequenceNumber = binary.LittleEndian.Uint16(buf)
			buf = buf[2:]
		}
	}
	if h.Mask&MaskPayloadHeader != 0 {
		if len(buf) < 1 {
			return Header{}, nil, status.New(status.InvalidArgument, "networkmessage: truncated payload header count")
		}
		n := int(buf[0])
		buf = buf[1:]
		h.DataSetWriterIDs = make([]uint16, n)
		for i := 0; i < n; i++ {
			if len(buf) < 2 {
				return Header{}, nil, status.New(status.InvalidArgument, "networkmessage: truncated dataset writer id")
			}
			h.DataSetWriterIDs[i] = binary.LittleEndian.Uint16(buf)
			buf = buf[2:]
		}
	}
	return h, buf, nil
}
