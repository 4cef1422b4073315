package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNegativeDuration 配置中的时长为负
var ErrNegativeDuration = errors.New("config: negative duration")

// Duration 可从 JSON 解析的时长
//
// 接受 "30s" 形式的字符串或纳秒整数；null 保留原值，负值在解析时拒绝。
// 序列化为字符串。
type Duration time.Duration

// UnmarshalJSON 实现 json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	var v time.Duration
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if v, err = time.ParseDuration(s); err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", s, err)
		}
	} else {
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("config: duration must be a string like \"30s\" or integer nanoseconds, got %s", data)
		}
		v = time.Duration(n)
	}

	if v < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeDuration, v)
	}
	*d = Duration(v)
	return nil
}

// MarshalJSON 输出 time.Duration 的字符串形式
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Duration 返回 time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}
