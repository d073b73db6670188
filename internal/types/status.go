package types

import "fmt"

// Status 是代理所处的生命周期阶段。
type Status uint8

const (
	StatusActive Status = iota
	StatusPaused
	StatusTerminated
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusPaused:
		return "paused"
	case StatusTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Valid 判断 s 是否为已声明的状态。
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusTerminated:
		return true
	default:
		return false
	}
}

// CanTransition 判断从 s 到 next 是否为合法的生命周期迁移。Terminated 之后不存在任何迁移。
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusActive:
		return next == StatusPaused || next == StatusTerminated
	case StatusPaused:
		return next == StatusActive || next == StatusTerminated
	case StatusTerminated:
		return false
	default:
		return false
	}
}

// MarshalText 实现 encoding.TextMarshaler。
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler。
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "active":
		*s = StatusActive
	case "paused":
		*s = StatusPaused
	case "terminated":
		*s = StatusTerminated
	default:
		return fmt.Errorf("unknown status %q", text)
	}
	return nil
}
