package prog

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/midfuzz/midfuzz/internal/schema"
)

func samplePair(x, y int32) *Prog {
	iv := &schema.InterfaceVal{
		ItfName: "/chatter",
		ItfType: "demo_msgs/Pair",
		Val: []schema.ValueNode{
			{Name: "x", Kind: schema.KindInt, IntVal: int64(x), Width: 32},
			{Name: "y", Kind: schema.KindInt, IntVal: int64(y), Width: 32},
		},
	}
	return &Prog{
		ItfKind:    Topic,
		ItfName:    "/chatter",
		ItfType:    "demo_msgs/Pair",
		ItfInfo:    iv,
		CallStream: `ros2 topic pub --once /chatter demo_msgs/Pair "{ x: 1, y: 2 }"`,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := samplePair(1, 2)
	data, err := Encode(p)
	require.NoError(t, err)

	out, err := DecodeAll(data)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, p.CallStream, out[0].CallStream)
	require.Equal(t, p.ItfKind, out[0].ItfKind)
	require.Equal(t, "x", out[0].ItfInfo.Val[0].Name)

	if diff := cmp.Diff(p, out[0]); diff != "" {
		t.Errorf("round trip changed the record (-want +got):\n%s", diff)
	}
}

func TestConcatenatedRecordsDecodeInOrder(t *testing.T) {
	p1 := samplePair(1, 2)
	p2 := samplePair(3, 4)

	d1, err := Encode(p1)
	require.NoError(t, err)
	d2, err := Encode(p2)
	require.NoError(t, err)

	out, err := DecodeAll(append(d1, d2...))
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, p1.CallStream, out[0].CallStream)
	require.Equal(t, p2.CallStream, out[1].CallStream)
}
