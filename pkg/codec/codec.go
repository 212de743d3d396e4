// Package codec encodes and decodes the envelopes exchanged between the
// subscriber and the worker/watcher fleet, and computes the partition hash
// routing decisions are based on.
package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cuemby/fabricsub/pkg/types"
)

func unixOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// wireEnvelope is the JSON shape of a single (non-bulk) envelope on the wire.
type wireEnvelope struct {
	Fabric   string          `json:"fabric"`
	MsgType  types.MsgType   `json:"msg_type"`
	WorkType types.WorkType  `json:"work_type,omitempty"`
	Role     types.WorkerRole `json:"role,omitempty"`
	Addr     string          `json:"addr,omitempty"`
	Qnum     int             `json:"qnum"`
	Vnid     uint32          `json:"vnid,omitempty"`
	Seq      uint64          `json:"seq"`
	Data     json.RawMessage `json:"data"`
	Ts       int64           `json:"ts"`
	Force    bool            `json:"force,omitempty"`
}

// wireBulk is the JSON shape of a bulk envelope, carrying up to
// MaxSendMsgLength inner envelopes (§3).
type wireBulk struct {
	Fabric  string          `json:"fabric"`
	MsgType types.MsgType   `json:"msg_type"`
	Seq     uint64          `json:"seq"`
	Msgs    []*wireEnvelope `json:"msgs"`
}

// MaxSendMsgLength bounds the number of inner envelopes a single bulk
// carries (§3, §4.2).
const MaxSendMsgLength = 20

// Encode serializes a single envelope to its self-delimited wire form.
func Encode(env *types.Envelope) ([]byte, error) {
	data, err := json.Marshal(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal payload: %w", err)
	}
	w := wireEnvelope{
		Fabric:   env.Fabric,
		MsgType:  env.MsgType,
		WorkType: env.WorkType,
		Role:     env.Role,
		Addr:     env.Addr,
		Qnum:     env.Qnum,
		Vnid:     env.Vnid,
		Seq:      env.Seq,
		Data:     data,
		Ts:       env.Ts.Unix(),
		Force:    env.Force,
	}
	out, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal envelope: %w", err)
	}
	return out, nil
}

// Decode parses a single envelope from its wire form. Payload is decoded
// generically into an any (a map[string]interface{} for object payloads);
// callers that need a concrete type re-unmarshal it themselves.
func Decode(b []byte) (*types.Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("codec: unmarshal envelope: %w", err)
	}
	var payload any
	if len(w.Data) > 0 {
		if err := json.Unmarshal(w.Data, &payload); err != nil {
			return nil, fmt.Errorf("codec: unmarshal payload: %w", err)
		}
	}
	return &types.Envelope{
		Fabric:   w.Fabric,
		MsgType:  w.MsgType,
		WorkType: w.WorkType,
		Role:     w.Role,
		Addr:     w.Addr,
		Qnum:     w.Qnum,
		Vnid:     w.Vnid,
		Seq:      w.Seq,
		Payload:  payload,
		Ts:       unixOrZero(w.Ts),
		Force:    w.Force,
	}, nil
}

// EncodeBulk serializes a bulk envelope. Its outer Seq must already equal
// the last inner envelope's Seq; see the dispatch package's sendGroup.
func EncodeBulk(b *types.BulkEnvelope) ([]byte, error) {
	w := wireBulk{
		Fabric:  b.Fabric,
		MsgType: types.MsgTypeBulk,
		Seq:     b.Seq,
	}
	for _, inner := range b.Msgs {
		data, err := json.Marshal(inner.Payload)
		if err != nil {
			return nil, fmt.Errorf("codec: marshal bulk payload: %w", err)
		}
		w.Msgs = append(w.Msgs, &wireEnvelope{
			Fabric:   inner.Fabric,
			MsgType:  inner.MsgType,
			WorkType: inner.WorkType,
			Role:     inner.Role,
			Addr:     inner.Addr,
			Qnum:     inner.Qnum,
			Vnid:     inner.Vnid,
			Seq:      inner.Seq,
			Data:     data,
			Ts:       inner.Ts.Unix(),
			Force:    inner.Force,
		})
	}
	out, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal bulk: %w", err)
	}
	return out, nil
}

// DecodeBulk parses a bulk envelope from its wire form.
func DecodeBulk(b []byte) (*types.BulkEnvelope, error) {
	var w wireBulk
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("codec: unmarshal bulk: %w", err)
	}
	out := &types.BulkEnvelope{Fabric: w.Fabric, Seq: w.Seq}
	for _, inner := range w.Msgs {
		var payload any
		if len(inner.Data) > 0 {
			if err := json.Unmarshal(inner.Data, &payload); err != nil {
				return nil, fmt.Errorf("codec: unmarshal bulk inner payload: %w", err)
			}
		}
		out.Msgs = append(out.Msgs, &types.Envelope{
			Fabric:   inner.Fabric,
			MsgType:  inner.MsgType,
			WorkType: inner.WorkType,
			Role:     inner.Role,
			Addr:     inner.Addr,
			Qnum:     inner.Qnum,
			Vnid:     inner.Vnid,
			Seq:      inner.Seq,
			Payload:  payload,
			Ts:       unixOrZero(inner.Ts),
			Force:    inner.Force,
		})
	}
	return out, nil
}

// Hash computes the stable partition hash for a (vnid, addr) pair used by
// the dispatcher to pick a worker index (§4.1). xxhash is non-cryptographic
// and fast, and produces identical output given identical input on both the
// subscriber and every worker, which is the only requirement here.
func Hash(key types.PartitionKey) uint64 {
	h := xxhash.New()
	_, _ = fmt.Fprintf(h, "%d|%s", key.Vnid, key.Addr)
	return h.Sum64()
}

// HashEnvelope is a convenience wrapper computing Hash over an envelope's
// own (Vnid, Addr) fields.
func HashEnvelope(env *types.Envelope) uint64 {
	return Hash(types.PartitionKey{Vnid: env.Vnid, Addr: env.Addr})
}
