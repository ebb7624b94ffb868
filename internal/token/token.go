package token

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// Size 为标识符字节长度。
const Size = 32

// ErrInvalid 表示文本无法解析为 32 字节标识符。
var ErrInvalid = errors.New("token: invalid identifier")

// Token 为 32 字节的资产标识符，文本形式为 base58。
type Token [Size]byte

// Parse 解析 base58 文本。
func Parse(s string) (Token, error) {
	var t Token
	if s == "" {
		return t, fmt.Errorf("%w: 空字符串", ErrInvalid)
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return t, fmt.Errorf("%w: %q: %v", ErrInvalid, s, err)
	}
	if len(raw) != Size {
		return t, fmt.Errorf("%w: %q 解码后为 %d 字节", ErrInvalid, s, len(raw))
	}
	copy(t[:], raw)
	return t, nil
}

// MustParse 与 Parse 相同，失败时 panic，仅用于常量与测试。
func MustParse(s string) Token {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// String 返回 base58 文本。
func (t Token) String() string {
	return base58.Encode(t[:])
}

// IsZero 判断是否为全零标识符。
func (t Token) IsZero() bool {
	return t == Token{}
}

func (t Token) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Token) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
