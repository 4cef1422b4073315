package system

import (
	"github.com/dep2p/go-p2pstack/internal/core/protocol"
	"github.com/dep2p/go-p2pstack/internal/core/protocol/system/echo"
	"github.com/dep2p/go-p2pstack/internal/core/protocol/system/ping"
	"github.com/dep2p/go-p2pstack/pkg/protocolids"
)

// Register 注册全部内置协议
func Register(r *protocol.Registry) error {
	if err := r.Register(protocolids.Ping, ping.NewService()); err != nil {
		return err
	}
	return r.Register(protocolids.Echo, echo.NewService())
}
