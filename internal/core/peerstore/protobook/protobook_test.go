package protobook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-p2pstack/pkg/types"
)

func TestProtoBook_AddAndQuery(t *testing.T) {
	pb, err := New(8)
	require.NoError(t, err)

	pb.AddProtocols("peer1", "/a/1.0.0", "/b/1.0.0", "/a/1.0.0")
	assert.Equal(t, []types.ProtocolID{"/a/1.0.0", "/b/1.0.0"}, pb.GetProtocols("peer1"))
	assert.Equal(t, []types.ProtocolID{"/b/1.0.0"}, pb.SupportsProtocols("peer1", "/b/1.0.0", "/c/1.0.0"))
	assert.Nil(t, pb.GetProtocols("peer2"))

	pb.MarkUnsupported("peer1", "/a/1.0.0")
	assert.Equal(t, []types.ProtocolID{"/b/1.0.0"}, pb.GetProtocols("peer1"))

	pb.RemovePeer("peer1")
	assert.Nil(t, pb.GetProtocols("peer1"))

	_, err = New(0)
	assert.ErrorIs(t, err, ErrInvalidSize)

	t.Log("✅ 协议簿测试通过")
}

func TestProtoBook_Order(t *testing.T) {
	pb, err := New(8)
	require.NoError(t, err)

	candidates := []types.ProtocolID{"/x/3.0.0", "/x/2.0.0", "/x/1.0.0", "/y/1.0.0"}
	assert.Equal(t, candidates, pb.Order("peer", candidates))

	pb.MarkUnsupported("peer", "/x/3.0.0")
	pb.AddProtocols("peer", "/y/1.0.0")
	pb.SetSelected("peer", "/x/1.0.0")

	assert.Equal(t,
		[]types.ProtocolID{"/x/1.0.0", "/y/1.0.0", "/x/2.0.0", "/x/3.0.0"},
		pb.Order("peer", candidates))

	// 重排不修改调用方切片
	assert.Equal(t, types.ProtocolID("/x/3.0.0"), candidates[0])
}

func TestProtoBook_Eviction(t *testing.T) {
	pb, err := New(2)
	require.NoError(t, err)

	pb.AddProtocols("p1", "/a")
	pb.AddProtocols("p2", "/a")
	pb.GetProtocols("p1")
	pb.AddProtocols("p3", "/a")

	assert.ElementsMatch(t, []types.PeerID{"p1", "p3"}, pb.Peers())
	assert.Nil(t, pb.GetProtocols("p2"))
}
