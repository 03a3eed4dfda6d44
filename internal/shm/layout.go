package shm

// SlotCount is SHM_LEN, the default ring length for all four regions.
const SlotCount = 512

// headerSize is the {count:i32, mutex} prefix every region carries. Readers
// never take the mutex; they treat each snapshot as a best-effort read.
const headerSize = 8

const (
	nodeRecordSize     = 64 + 64 + 8 + 8
	callbackRecordSize = 10*8 + 64 + 600
	timeRecordSize     = 5 * 8
	msgRecordSize      = 5 * 8
)

// NodeRecord mirrors one nodes[] slot.
type NodeRecord struct {
	Name      string
	Namespace string
	Handle    uint64
	PID       uint64
}

// CbType enumerates the callback-kind tag carried in a callbacks[] slot.
type CbType int

const (
	CbSub CbType = iota
	CbPub
	CbSrv
	CbCli
	CbTimer
	CbOther
)

// CallbackRecord mirrors one callbacks[] slot.
type CallbackRecord struct {
	CbType          CbType
	Stage           uint64
	Idx             uint64
	PID             uint64
	Period          uint64
	RclHandle       uint64
	RmwHandle       uint64
	NodeHandle      uint64
	RclcppHandle    uint64
	RclcppHandle1   uint64
	CbName          string
	FunctionSymbol  string
}

// EventType is the wire contract mapping of times[].flag values.
type EventType int

const (
	EventCbStart EventType = 1
	EventCbEnd   EventType = 2
	EventRclPub  EventType = 3
	EventRclSub  EventType = 4
	EventSrvReq  EventType = 5
	EventSrvRsp  EventType = 6
	EventCliReq  EventType = 7
	EventCliRsp  EventType = 8
	EventExeExe  EventType = 9
	EventExeRdy  EventType = 10
)

// ParseEventType maps a raw flag to an EventType, returning ok=false for
// any value outside the wire contract so the caller can skip the slot.
func ParseEventType(flag uint64) (EventType, bool) {
	if flag < 1 || flag > 10 {
		return 0, false
	}
	return EventType(flag), true
}

// TimeRecord mirrors one times[] slot.
type TimeRecord struct {
	Cb          uint64
	Time        uint64
	Flag        uint64
	MessageSize uint64
	RmwHandle   uint64
}

// MsgRecord mirrors one msg[] slot.
type MsgRecord struct {
	Subscription uint64
	Callback     uint64
	Size         uint64
	SendTime     uint64
	RecvTime     uint64
}
