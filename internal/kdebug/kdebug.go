// Package kdebug drives the kernel trace buffer through the CTL_KERN /
// KERN_KDEBUG sysctl family and decodes its fixed-size records.
package kdebug

// One kernel trace entry, the LP64/arm64 kd_buf layout. 64 bytes on the
// wire, little endian.
type Record struct {
	Timestamp uint64
	Args      [4]uint64
	TID       uint64 // arg5 carries the thread id
	DebugID   uint32
	CPUID     uint32
	Unused    uint64
}

// RecordSize is the wire size of one Record.
const RecordSize = 64

// debugid encodes class, subclass and code plus the function flag in the
// low bits.
const (
	DBG_PERF             = 37
	PERF_KPC             = 6
	PERF_KPC_DATA_THREAD = 8

	DBG_FUNC_START = 1
	DBG_FUNC_END   = 2
	KDBG_FUNC_MASK = 3
)

// Filter types for SetValueFilter's kd_regtype.
const (
	KDBG_CLASSTYPE  = 0x10000
	KDBG_SUBCLSTYPE = 0x20000
	KDBG_RANGETYPE  = 0x40000
	KDBG_TYPENONE   = 0x80000
	KDBG_VALCHECK   = 0x00200000
)

func EventID(class, subclass, code uint32) uint32 {
	return class<<24 | subclass<<16 | code<<2
}

func ExtractClass(debugid uint32) uint32    { return debugid >> 24 }
func ExtractSubclass(debugid uint32) uint32 { return (debugid >> 16) & 0xff }
func ExtractCode(debugid uint32) uint32     { return (debugid >> 2) & 0x3fff }

// IsStart reports whether the record opens a logical event.
func (r Record) IsStart() bool {
	return r.DebugID&KDBG_FUNC_MASK == DBG_FUNC_START
}

// EventID returns the record's debugid with the function flag stripped.
func (r Record) EventID() uint32 {
	return r.DebugID &^ uint32(KDBG_FUNC_MASK)
}

// BufInfo mirrors the kernel's kbufinfo_t.
type BufInfo struct {
	NumBufs    int  // entries the kernel buffers can hold
	NoLog      bool // tracing currently disabled
	Flags      uint32
	NumThreads int // threads in the thread map
	BufID      int // owning pid
}

// Channel is the kernel trace channel a sampling session drains.
type Channel interface {
	Reset() error
	SetBufferSize(entries int) error
	Reinit() error
	SetValueFilter(debugid uint32) error
	Enable(on bool) error
	// Read drains up to len(buf) records, returning how many arrived.
	Read(buf []Record) (int, error)
	BufInfo() (BufInfo, error)
	// Wait blocks until new records are buffered or the timeout passes.
	Wait(timeoutMS int) (bool, error)
}
