package kdebug

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unsafe"
)

// sysctl mib words for the trace subsystem.
const (
	ctlKern    = 1
	kernKDebug = 59

	kernKDEnable  = 3
	kernKDSetBuf  = 4
	kernKDGetBuf  = 5
	kernKDSetup   = 6
	kernKDRemove  = 7
	kernKDSetReg  = 8
	kernKDReadTr  = 10
	kernKDBufWait = 23
)

// kd_regtype, the filter argument of KERN_KDSETREG.
type regType struct {
	Type   uint32
	Value1 uint32
	Value2 uint32
	Value3 uint32
	Value4 uint32
}

// kbufinfo_t as the kernel returns it.
type rawBufInfo struct {
	NKDBufs    int32
	NoLog      int32
	Flags      uint32
	NKDThreads int32
	BufID      int32
}

// Sysctler issues raw mib sysctls; satisfied by the platform binding.
type Sysctler interface {
	Sysctl(mib []int32, old unsafe.Pointer, oldlen *uintptr, newp unsafe.Pointer, newlen uintptr) error
}

// KernelChannel is the real trace channel over sysctl.
type KernelChannel struct {
	s       Sysctler
	scratch []byte // raw read buffer, reused across Reads
}

func NewChannel(s Sysctler) *KernelChannel {
	return &KernelChannel{s: s}
}

func (c *KernelChannel) cmd(words ...int32) error {
	mib := append([]int32{ctlKern, kernKDebug}, words...)
	return c.s.Sysctl(mib, nil, nil, nil, 0)
}

// Reset removes the trace buffers and resets ktrace/kdebug/kperf.
func (c *KernelChannel) Reset() error {
	return c.cmd(kernKDRemove)
}

// SetBufferSize sets the kernel-side capacity in trace entries.
func (c *KernelChannel) SetBufferSize(entries int) error {
	return c.cmd(kernKDSetBuf, int32(entries))
}

// Reinit disables and reallocates the trace buffers.
func (c *KernelChannel) Reinit() error {
	return c.cmd(kernKDSetup)
}

// SetValueFilter keeps only records whose debugid matches.
func (c *KernelChannel) SetValueFilter(debugid uint32) error {
	kdr := regType{Type: KDBG_VALCHECK, Value1: debugid}
	size := unsafe.Sizeof(kdr)
	return c.s.Sysctl([]int32{ctlKern, kernKDebug, kernKDSetReg},
		unsafe.Pointer(&kdr), &size, nil, 0)
}

func (c *KernelChannel) Enable(on bool) error {
	var v int32
	if on {
		v = 1
	}
	return c.cmd(kernKDEnable, v)
}

// Read drains up to len(buf) records. The sysctl takes a byte length in and
// reports a record count out.
func (c *KernelChannel) Read(buf []Record) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	want := len(buf) * RecordSize
	if cap(c.scratch) < want {
		c.scratch = make([]byte, want)
	}
	raw := c.scratch[:want]

	length := uintptr(len(raw))
	err := c.s.Sysctl([]int32{ctlKern, kernKDebug, kernKDReadTr},
		unsafe.Pointer(&raw[0]), &length, nil, 0)
	if err != nil {
		return 0, fmt.Errorf("read trace buffer: %w", err)
	}
	n := int(length)
	if n > len(buf) {
		n = len(buf)
	}
	if err := binary.Read(bytes.NewReader(raw[:n*RecordSize]), binary.LittleEndian, buf[:n]); err != nil {
		return 0, fmt.Errorf("decode trace records: %w", err)
	}
	return n, nil
}

func (c *KernelChannel) BufInfo() (BufInfo, error) {
	var raw rawBufInfo
	size := unsafe.Sizeof(raw)
	err := c.s.Sysctl([]int32{ctlKern, kernKDebug, kernKDGetBuf},
		unsafe.Pointer(&raw), &size, nil, 0)
	if err != nil {
		return BufInfo{}, err
	}
	return BufInfo{
		NumBufs:    int(raw.NKDBufs),
		NoLog:      raw.NoLog != 0,
		Flags:      raw.Flags,
		NumThreads: int(raw.NKDThreads),
		BufID:      int(raw.BufID),
	}, nil
}

// Wait blocks until new records are buffered or timeoutMS passes. The
// timeout rides in through the oldlen slot; the kernel writes back whether
// buffers filled.
func (c *KernelChannel) Wait(timeoutMS int) (bool, error) {
	if timeoutMS <= 0 {
		return false, fmt.Errorf("wait needs a timeout")
	}
	val := uintptr(timeoutMS)
	err := c.s.Sysctl([]int32{ctlKern, kernKDebug, kernKDBufWait},
		nil, &val, nil, 0)
	if err != nil {
		return false, err
	}
	return val != 0, nil
}
