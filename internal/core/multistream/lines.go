package multistream

import (
	"bytes"
	"context"

	"github.com/dep2p/go-p2pstack/pkg/interfaces"
	"github.com/dep2p/go-p2pstack/pkg/types"
)

// writeLine 写入一行
func writeLine(ctx context.Context, ch interfaces.Channel, msg string) error {
	if len(msg)+1 > MaxMsgLen {
		return ErrMessageTooLong
	}
	buf := make([]byte, 0, len(msg)+1)
	buf = append(buf, msg...)
	buf = append(buf, '\n')
	_, err := ch.WriteContext(ctx, buf)
	return err
}

// readLine 逐字节读取一行，不消费行尾之后的字节
func readLine(ctx context.Context, ch interfaces.Channel) (string, error) {
	var line bytes.Buffer
	b := make([]byte, 1)
	for {
		if _, err := ch.ReadContext(ctx, b, types.ReadFull); err != nil {
			return "", err
		}
		if b[0] == '\n' {
			return line.String(), nil
		}
		if line.Len()+1 >= MaxMsgLen {
			return "", ErrMessageTooLong
		}
		line.WriteByte(b[0])
	}
}
