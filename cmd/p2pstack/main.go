// Command p2pstack 启动一个 p2pstack 节点
//
// 作为监听方运行：
//
//	p2pstack -listen tcp://0.0.0.0:4001
//
// 拨号并测试 echo / ping：
//
//	p2pstack -dial tcp://127.0.0.1:4001 -peer <PeerID> -echo hello -ping 3
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	p2pstack "github.com/dep2p/go-p2pstack"
	"github.com/dep2p/go-p2pstack/config"
	"github.com/dep2p/go-p2pstack/internal/core/protocol/system/echo"
	"github.com/dep2p/go-p2pstack/internal/core/protocol/system/ping"
	"github.com/dep2p/go-p2pstack/pkg/protocolids"
	"github.com/dep2p/go-p2pstack/pkg/types"
)

// ============================================================================
//                              命令行参数
// ============================================================================

var (
	// 基础参数
	configFile  = flag.String("config", "", "配置文件路径 (JSON)")
	showVersion = flag.Bool("version", false, "显示版本信息")
	logLevel    = flag.String("log-level", "info", "日志级别: debug, info, warn, error")

	// 网络参数
	listenAddrs  = flag.String("listen", "", "监听地址，逗号分隔 (如 tcp://0.0.0.0:4001)")
	identityFile = flag.String("identity", "", "身份密钥文件，为空时使用临时身份")
	plaintext    = flag.Bool("plaintext", false, "启用明文安全层（仅用于调试）")

	// 拨号测试
	dialAddr  = flag.String("dial", "", "拨号目标地址")
	peerID    = flag.String("peer", "", "期望的远端 PeerID，为空时接受任意身份")
	echoMsg   = flag.String("echo", "", "发送 echo 消息")
	pingCount = flag.Int("ping", 0, "ping 次数")
	timeout   = flag.Duration("timeout", 30*time.Second, "拨号测试超时")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(p2pstack.VersionInfo())
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := buildConfig()
	if err != nil {
		return err
	}

	z, err := setupLogging(*logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = z.Sync() }()

	h, err := p2pstack.New(cfg, p2pstack.WithZapLogger(z))
	if err != nil {
		return fmt.Errorf("创建节点失败: %w", err)
	}
	defer func() { _ = h.Close() }()

	if err := h.Start(); err != nil {
		return fmt.Errorf("启动节点失败: %w", err)
	}
	printNodeInfo(h)

	if *dialAddr != "" {
		return runDial(h)
	}

	waitForSignal()
	return nil
}

// buildConfig 合并配置文件、环境变量与命令行参数
func buildConfig() (*config.Config, error) {
	cfg, err := loadConfig(*configFile)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	applyEnvOverrides(cfg)

	if *listenAddrs != "" {
		cfg.Transport = cfg.Transport.WithListenAddrs(splitList(*listenAddrs)...)
	}
	if *identityFile != "" {
		cfg.Identity = cfg.Identity.WithKeyFile(*identityFile)
	}
	if *plaintext {
		cfg.Security = cfg.Security.WithPlaintext(true)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置无效: %w", err)
	}
	return cfg, nil
}

// setupLogging 构建 zap 日志
func setupLogging(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("日志级别无效 %q: %w", level, err)
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.DisableStacktrace = true
	return zc.Build()
}

func printNodeInfo(h *p2pstack.Host) {
	fmt.Println("════════════════════════════════════════")
	fmt.Printf("  %s\n", p2pstack.VersionInfo())
	fmt.Printf("  PeerID: %s\n", h.ID())
	for _, addr := range h.Addrs() {
		fmt.Printf("  监听:   %s\n", addr)
	}
	fmt.Printf("  协议:   %s\n", joinProtocols(h.Protocols()))
	fmt.Println("════════════════════════════════════════")
}

func joinProtocols(ids []types.ProtocolID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}

// ============================================================================
//                              拨号测试
// ============================================================================

func runDial(h *p2pstack.Host) error {
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sess, err := h.Dial(ctx, *dialAddr, types.PeerID(*peerID))
	if err != nil {
		return fmt.Errorf("拨号失败: %w", err)
	}
	remote := sess.RemotePeer()
	fmt.Printf("已连接 %s (security=%s, muxer=%s)\n",
		remote.ShortString(), sess.SecurityProtocol(), sess.MuxerProtocol())

	if *echoMsg != "" {
		if err := runEcho(ctx, h, remote, []byte(*echoMsg)); err != nil {
			return err
		}
	}
	for i := 0; i < *pingCount; i++ {
		if err := runPing(ctx, h, remote, i+1); err != nil {
			return err
		}
	}
	return nil
}

func runEcho(ctx context.Context, h *p2pstack.Host, remote types.PeerID, msg []byte) error {
	st, _, err := h.NewStream(ctx, remote, protocolids.Echo)
	if err != nil {
		return fmt.Errorf("打开 echo 流失败: %w", err)
	}
	defer func() { _ = st.Close() }()

	reply, err := echo.Echo(ctx, st, msg)
	if err != nil {
		return fmt.Errorf("echo 失败: %w", err)
	}
	fmt.Printf("echo: %s\n", reply)
	return nil
}

func runPing(ctx context.Context, h *p2pstack.Host, remote types.PeerID, seq int) error {
	st, _, err := h.NewStream(ctx, remote, protocolids.Ping)
	if err != nil {
		return fmt.Errorf("打开 ping 流失败: %w", err)
	}
	defer func() { _ = st.Close() }()

	rtt, err := ping.Ping(ctx, st)
	if err != nil {
		if errors.Is(err, ping.ErrDataMismatch) {
			return fmt.Errorf("ping #%d 数据不一致", seq)
		}
		return fmt.Errorf("ping #%d 失败: %w", seq, err)
	}
	fmt.Printf("ping #%d: %s\n", seq, rtt)
	return nil
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Printf("\n收到信号 %s，正在关闭...\n", sig)
}
