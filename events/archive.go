package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ArchivalRecord is one captured multicast message: the netlink message
// type plus its raw body, serialized as a JSON line. Archives make event
// decoding testable and replayable without a live kernel, the same role
// the raw-message archives play in the M-Lab collection pipeline.
type ArchivalRecord struct {
	// MsgType is the netlink header type (RTM_NEWLINK, ...).
	MsgType uint16 `json:"type"`
	// Data is the message body after the netlink header.
	Data []byte `json:"data"`
}

// ArchiveWriter appends records to a JSONL stream.
type ArchiveWriter struct {
	enc *json.Encoder
}

// NewArchiveWriter wraps w for record appending.
func NewArchiveWriter(w io.Writer) *ArchiveWriter {
	return &ArchiveWriter{enc: json.NewEncoder(w)}
}

// Write appends one captured message.
func (w *ArchiveWriter) Write(msgType uint16, data []byte) error {
	return w.enc.Encode(&ArchivalRecord{MsgType: msgType, Data: data})
}

// ArchiveReader reads records back from a JSONL stream.
type ArchiveReader struct {
	dec *json.Decoder
}

// NewArchiveReader wraps r for record iteration.
func NewArchiveReader(r io.Reader) *ArchiveReader {
	return &ArchiveReader{dec: json.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the stream.
func (r *ArchiveReader) Next() (*ArchivalRecord, error) {
	rec := &ArchivalRecord{}
	if err := r.dec.Decode(rec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("events: reading archive: %w", err)
	}
	return rec, nil
}

// Replay decodes every archived record into events, applying the same
// tolerance as the live stream: records that do not decode are skipped.
func Replay(r *ArchiveReader) ([]NetworkEvent, error) {
	var out []NetworkEvent
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if ev, ok := decode(rec.MsgType, rec.Data); ok {
			out = append(out, ev)
		}
	}
}
