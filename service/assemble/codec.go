package assemble

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/structrec/structrec/service/persist"
	"github.com/structrec/structrec/service/structctx"
)

// The table is serialized as uvarint length-framed sections: a JSON header
// followed by one row per entity. Weights are raw little-endian float64 bits
// so a decode/encode round trip is byte-identical.

type tableHeader struct {
	City     string  `json:"city"`
	Constant float64 `json:"constant"`
	Order    int     `json:"order"`
	TopK     int     `json:"top_k"`
	Entries  int     `json:"entries"`
}

func (t ContextTable) MarshalBinary() ([]byte, error) {
	var buf []byte

	h, err := json.Marshal(tableHeader{
		City:     t.City,
		Constant: t.Constant,
		Order:    t.Order,
		TopK:     t.TopK,
		Entries:  len(t.Entries),
	})
	if err != nil {
		return nil, err
	}
	appendTo(&buf, h)

	for _, e := range t.Entries {
		appendTo(&buf, []byte(e.Entity))
		appendUvarint(&buf, uint64(len(e.Context)))
		for _, p := range e.Context {
			appendTo(&buf, []byte(p.ID))
			appendFloat(&buf, p.Weight)
		}
	}

	return buf, nil
}

func (t *ContextTable) UnmarshalBinary(data []byte) error {
	return t.UnmarshalBinaryFrom(bytes.NewReader(data))
}

func (t *ContextTable) UnmarshalBinaryFrom(r io.Reader) error {
	br := asByteReader(r)

	hb, err := readTo(br)
	if err != nil {
		return errors.Wrap(err, "reading table header")
	}
	var h tableHeader
	if err := json.Unmarshal(hb, &h); err != nil {
		return errors.Wrap(err, "decoding table header")
	}

	entries := make([]Entry, h.Entries)
	for i := range entries {
		id, err := readTo(br)
		if err != nil {
			return errors.Wrapf(err, "reading entry %d of %s", i, h.City)
		}
		count, err := binary.ReadUvarint(br)
		if err != nil {
			return errors.Wrapf(err, "reading context size for %s", id)
		}
		c := make(structctx.Context, count)
		for j := range c {
			nid, err := readTo(br)
			if err != nil {
				return errors.Wrapf(err, "reading neighbor %d of %s", j, id)
			}
			w, err := readFloat(br)
			if err != nil {
				return errors.Wrapf(err, "reading weight %d of %s", j, id)
			}
			c[j] = structctx.Pair{ID: persist.EntityID(nid), Weight: w}
		}
		entries[i] = Entry{Entity: persist.EntityID(id), Context: c}
	}

	t.City = h.City
	t.Constant = h.Constant
	t.Order = h.Order
	t.TopK = h.TopK
	t.Entries = entries
	return nil
}

type byteReader interface {
	io.Reader
	io.ByteReader
}

func asByteReader(r io.Reader) byteReader {
	if br, ok := r.(byteReader); ok {
		return br
	}
	return bufio.NewReader(r)
}

func appendTo(buf *[]byte, byt []byte) {
	appendUvarint(buf, uint64(len(byt)))
	*buf = append(*buf, byt...)
}

func appendUvarint(buf *[]byte, v uint64) {
	tmp := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(tmp, v)
	*buf = append(*buf, tmp[:n]...)
}

func appendFloat(buf *[]byte, f float64) {
	tmp := make([]byte, 8)
	binary.LittleEndian.PutUint64(tmp, math.Float64bits(f))
	*buf = append(*buf, tmp...)
}

func readTo(r byteReader) ([]byte, error) {
	l, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, l)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readFloat(r byteReader) (float64, error) {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(buf)), nil
}
