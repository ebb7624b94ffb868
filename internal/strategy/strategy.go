package strategy

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"

	"strategy-engine/internal/action"
	"strategy-engine/internal/arena"
	"strategy-engine/internal/condition"
	"strategy-engine/internal/token"
)

// scheduleSize 为 ExecuteEverySeconds 与 LastExecutedAt 两个字段的编码长度。
const scheduleSize = 8 + 8

var errMissingTree = errors.New("strategy: 条件树与动作树不能为空")

// Strategy 由条件树、动作树与执行节奏组成。
type Strategy struct {
	Condition *condition.Tree
	Action    *action.Tree

	// ExecuteEverySeconds 为两次执行之间的最小间隔，0 表示不限制。
	ExecuteEverySeconds uint64
	// LastExecutedAt 为上次成功执行的 unix 秒，0 表示从未执行。
	LastExecutedAt int64
}

// New 创建策略。
func New(cond *condition.Tree, act *action.Tree, everySeconds uint64) (*Strategy, error) {
	if cond == nil || act == nil {
		return nil, errMissingTree
	}
	return &Strategy{
		Condition:           cond,
		Action:              act,
		ExecuteEverySeconds: everySeconds,
	}, nil
}

// Due 判断 now 时刻是否允许再次执行。时钟回拨时视为未到期。
func (s *Strategy) Due(now int64) bool {
	if s.LastExecutedAt == 0 || s.ExecuteEverySeconds == 0 {
		return true
	}
	if now < s.LastExecutedAt {
		return false
	}
	return uint64(now-s.LastExecutedAt) >= s.ExecuteEverySeconds
}

// complete 判断条件树与动作树均非空。
func (s *Strategy) complete() bool {
	return s != nil && s.Condition.Len() > 0 && s.Action.Len() > 0
}

// Tokens 返回条件与动作引用的去重 token，条件中的 token 在前。
// 回测撮合动作时同样需要动作 token 的价格。
func (s *Strategy) Tokens() []token.Token {
	if s == nil {
		return nil
	}
	out := s.Condition.Tokens()
	seen := make(map[token.Token]struct{}, len(out))
	for _, tok := range out {
		seen[tok] = struct{}{}
	}
	for _, a := range s.Action.Actions() {
		if _, ok := seen[a.Token]; ok {
			continue
		}
		seen[a.Token] = struct{}{}
		out = append(out, a.Token)
	}
	return out
}

// Size 返回 MarshalBinary 输出的精确字节数，树缺失时返回 0。
func (s *Strategy) Size() int {
	if !s.complete() {
		return 0
	}
	return s.Condition.Size() + s.Action.Size() + scheduleSize
}

// AppendBinary 依次写入条件树、动作树、执行间隔与上次执行时间。
func (s *Strategy) AppendBinary(dst []byte) []byte {
	dst = s.Condition.AppendBinary(dst)
	dst = s.Action.AppendBinary(dst)
	dst = binary.LittleEndian.AppendUint64(dst, s.ExecuteEverySeconds)
	return binary.LittleEndian.AppendUint64(dst, uint64(s.LastExecutedAt))
}

// MarshalBinary 返回持久化使用的字节形式。
func (s *Strategy) MarshalBinary() ([]byte, error) {
	if !s.complete() {
		return nil, errMissingTree
	}
	return s.AppendBinary(make([]byte, 0, s.Size())), nil
}

// UnmarshalBinary 从字节恢复策略，多余字节视为错误。
func (s *Strategy) UnmarshalBinary(data []byte) error {
	decoded, n, err := Decode(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("%w: 策略之后存在 %d 字节多余数据", arena.ErrCorrupt, len(data)-n)
	}
	*s = *decoded
	return nil
}

// Decode 从 data 开头解码策略，返回消耗的字节数。
func Decode(data []byte) (*Strategy, int, error) {
	cond, n, err := condition.Decode(data)
	if err != nil {
		return nil, 0, fmt.Errorf("strategy: %w", err)
	}
	off := n

	act, n, err := action.Decode(data[off:])
	if err != nil {
		return nil, 0, fmt.Errorf("strategy: %w", err)
	}
	off += n

	if len(data)-off < scheduleSize {
		return nil, 0, fmt.Errorf("strategy: %w: 执行计划字段被截断", arena.ErrCorrupt)
	}
	every := binary.LittleEndian.Uint64(data[off:])
	last := int64(binary.LittleEndian.Uint64(data[off+8:]))
	off += scheduleSize

	return &Strategy{
		Condition:           cond,
		Action:              act,
		ExecuteEverySeconds: every,
		LastExecutedAt:      last,
	}, off, nil
}

// Fingerprint 返回条件树与动作树编码的 Keccak-256 十六进制摘要，
// 与执行节奏无关，相同规则得到相同指纹。树缺失时返回空串。
func (s *Strategy) Fingerprint() string {
	if !s.complete() {
		return ""
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(s.Condition.AppendBinary(nil))
	h.Write(s.Action.AppendBinary(nil))
	return hex.EncodeToString(h.Sum(nil))
}
