package orchestrator

// State 会话流水线状态
type State string

const (
	// StateAwaitingFirstChunk 尚未处理首个切片，无法做跨切片匹配
	StateAwaitingFirstChunk State = "awaiting_chunk_0"
	// StateSteady 后续切片都与前一切片的尾部统计匹配
	StateSteady State = "steady_state"
	// StateClosed 终态，不再接收切片，转写只读
	StateClosed State = "session_closed"
)
