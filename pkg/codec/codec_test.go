package codec

import (
	"testing"
	"time"

	"github.com/cuemby/fabricsub/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	env := &types.Envelope{
		Fabric:   "fab1",
		MsgType:  types.MsgTypeWork,
		WorkType: types.WorkStdMo,
		Role:     types.RoleWatcher,
		Addr:     "worker-3",
		Qnum:     1,
		Vnid:     0xE00001,
		Seq:      42,
		Payload:  map[string]any{"dn": "uni/tn-x/bd-y"},
		Ts:       time.Unix(1700000000, 0).UTC(),
		Force:    true,
	}

	wire, err := Encode(env)
	require.NoError(t, err)

	got, err := Decode(wire)
	require.NoError(t, err)

	assert.Equal(t, env.Fabric, got.Fabric)
	assert.Equal(t, env.MsgType, got.MsgType)
	assert.Equal(t, env.WorkType, got.WorkType)
	assert.Equal(t, env.Role, got.Role)
	assert.Equal(t, env.Addr, got.Addr)
	assert.Equal(t, env.Qnum, got.Qnum)
	assert.Equal(t, env.Vnid, got.Vnid)
	assert.Equal(t, env.Seq, got.Seq)
	assert.Equal(t, env.Ts, got.Ts)
	assert.Equal(t, env.Force, got.Force)
	assert.Equal(t, HashEnvelope(env), HashEnvelope(got))
}

func TestEncodeDecodeBulkRoundTrip(t *testing.T) {
	bulk := &types.BulkEnvelope{
		Fabric: "fab1",
		Seq:    9,
		Msgs: []*types.Envelope{
			{Fabric: "fab1", MsgType: types.MsgTypeWork, WorkType: types.WorkEpmIPEvent, Seq: 8, Payload: "a"},
			{Fabric: "fab1", MsgType: types.MsgTypeWork, WorkType: types.WorkEpmIPEvent, Seq: 9, Payload: "b"},
		},
	}

	wire, err := EncodeBulk(bulk)
	require.NoError(t, err)

	got, err := DecodeBulk(wire)
	require.NoError(t, err)

	require.Len(t, got.Msgs, 2)
	assert.Equal(t, bulk.Seq, got.Seq)
	assert.Equal(t, bulk.Msgs[0].Seq, got.Msgs[0].Seq)
	assert.Equal(t, bulk.Msgs[1].Seq, got.Msgs[1].Seq)
}

func TestHashDeterministic(t *testing.T) {
	k := types.PartitionKey{Vnid: 0xE00001, Addr: "aa:bb:cc:dd:ee:01"}
	assert.Equal(t, Hash(k), Hash(k))
}

func TestHashDistinguishesKeys(t *testing.T) {
	a := Hash(types.PartitionKey{Vnid: 1, Addr: "x"})
	b := Hash(types.PartitionKey{Vnid: 2, Addr: "x"})
	assert.NotEqual(t, a, b)
}
