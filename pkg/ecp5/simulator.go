package ecp5

// Simulator is a behavioral model of an ECP5's configuration logic, meant
// to sit behind jtag.NewSimTransport. It answers the slave-JTAG command set
// (ID, status, busy polling, erase, bitstream burst), tracks the DONE/ISC
// lifecycle, emulates the meta-JTAG register file including its width
// preloads, and bridges background SPI frames to a FlashModel.
//
// Zero values of the failure hooks give a healthy device; tests flip them
// to drive the engine down its error paths.
type Simulator struct {
	IDCode   uint32
	Usercode uint32

	// Widths the meta-JTAG register paths report to the width probe.
	InstructionWidth int
	DataWidth        int

	// RegisterFile backs the meta-JTAG addressed registers.
	RegisterFile map[uint8]uint64

	// Flash sits behind the background SPI bridge.
	Flash *FlashModel

	FailConfiguration bool // burst ends in a CRC failure instead of DONE
	FailErase         bool // SRAM erase reports a command failure

	// Shift-register state.
	irFifo  []bool
	irIn    []bool
	irLatch Opcode
	drFifo  []bool
	drIn    []bool

	// Configuration logic state.
	done       bool
	iscEnabled bool
	stickyFail bool
	errorCode  ErrorCode
	busyPolls  int
	bitstream  []byte

	// Meta-JTAG transaction state. An instruction-register update leaves
	// the decoded command pending until the next data-register update
	// consumes it.
	pendingValid   bool
	pendingWrite   bool
	pendingAddress uint8

	// Background SPI state.
	awaitUnlock     bool
	inBackgroundSPI bool
	spiCmd          []byte
	spiBits         int
	spiCurByte      byte
	spiOutByte      byte
}

// NewSimulator returns a model of a healthy LFE5U-25 with an empty register
// file and an erased flash.
func NewSimulator() *Simulator {
	return &Simulator{
		IDCode:           0x41111043,
		InstructionWidth: 8,
		DataWidth:        32,
		RegisterFile:     make(map[uint8]uint64),
		Flash:            NewFlashModel(),
		irLatch:          OpReadID,
	}
}

// Reset models Test-Logic-Reset: the ID instruction is preloaded so a plain
// data scan reads the IDCODE.
func (s *Simulator) Reset() {
	s.irLatch = OpReadID
	s.irFifo, s.irIn = nil, nil
	s.drFifo, s.drIn = nil, nil
	s.pendingValid = false
	s.awaitUnlock = false
	s.inBackgroundSPI = false
}

// CaptureIR loads the ECP5's fixed instruction capture value.
func (s *Simulator) CaptureIR() {
	s.irFifo = bitsOfWord(0x05, 8)
	s.irIn = s.irIn[:0]
}

func (s *Simulator) ShiftIR(tdi bool) bool {
	tdo := tdi
	if len(s.irFifo) > 0 {
		tdo = s.irFifo[0]
		s.irFifo = s.irFifo[1:]
	}
	s.irIn = append(s.irIn, tdi)
	return tdo
}

func (s *Simulator) UpdateIR() {
	if len(s.irIn) < 8 {
		return
	}
	s.irLatch = Opcode(wordLSBFirst(s.irIn, 8))

	s.awaitUnlock = false
	if s.irLatch != OpLSCEnterBackgroundSPI {
		s.inBackgroundSPI = false
	}

	switch s.irLatch {
	case OpLSCRefresh:
		s.done = false
		s.iscEnabled = false
		s.stickyFail = false
		s.errorCode = ErrorCodeNone
		s.busyPolls = 1
	case OpISCDisable:
		s.iscEnabled = false
	case OpLSCEnterBackgroundSPI:
		s.awaitUnlock = true
	}
}

// CaptureDR seeds the data path selected by the latched instruction.
func (s *Simulator) CaptureDR() {
	s.drIn = s.drIn[:0]
	if s.inBackgroundSPI {
		// Chip select asserts; a fresh flash frame begins.
		s.spiCmd = s.spiCmd[:0]
		s.spiBits = 0
		s.spiCurByte = 0
		return
	}

	switch s.irLatch {
	case OpReadID:
		s.drFifo = bitsOfWord(uint64(s.IDCode), 32)
	case OpLSCReadStatus:
		s.drFifo = bitsOfBEWord(uint32(s.statusWord()))
	case OpReadUsercode:
		s.drFifo = bitsOfBEWord(s.Usercode)
	case OpLSCCheckBusy:
		busy := s.busyPolls > 0
		if busy {
			s.busyPolls--
		}
		fifo := make([]bool, 8)
		fifo[0] = busy
		s.drFifo = fifo
	case OpER1:
		s.drFifo = onesFifo(s.InstructionWidth)
	case OpER2:
		if s.pendingValid {
			s.drFifo = bitsOfWord(s.RegisterFile[s.pendingAddress], s.DataWidth)
		} else {
			s.drFifo = onesFifo(s.DataWidth)
		}
	default:
		s.drFifo = nil
	}
}

func (s *Simulator) ShiftDR(tdi bool) bool {
	if s.inBackgroundSPI {
		return s.spiShift(tdi)
	}
	tdo := tdi
	if len(s.drFifo) > 0 {
		tdo = s.drFifo[0]
		s.drFifo = s.drFifo[1:]
	}
	s.drIn = append(s.drIn, tdi)
	return tdo
}

// UpdateDR applies the shifted data according to the latched instruction.
func (s *Simulator) UpdateDR() {
	if s.inBackgroundSPI {
		// Chip select deasserts; the flash acts on the frame.
		s.Flash.execute(s.spiCmd)
		return
	}

	switch s.irLatch {
	case OpISCEnable:
		s.iscEnabled = true
	case OpISCErase:
		s.done = false
		s.busyPolls = 2
		if s.FailErase {
			s.stickyFail = true
			s.errorCode = ErrorCodeIllegalCommand
		}
	case OpLSCBitstreamBurst:
		s.bitstream = bytesMSBFirst(s.drIn)
		if s.iscEnabled && !s.FailConfiguration {
			s.done = true
		} else {
			s.stickyFail = true
			s.errorCode = ErrorCodeCRCFailed
		}
	case OpLSCEnterBackgroundSPI:
		if s.awaitUnlock && wordLSBFirst(s.drIn, 16) == spiUnlockCode {
			s.inBackgroundSPI = true
			s.awaitUnlock = false
		}
	case OpER1:
		word := wordLSBFirst(s.drIn, s.InstructionWidth)
		s.pendingWrite = s.InstructionWidth > 0 && word&(1<<uint(s.InstructionWidth-1)) != 0
		s.pendingAddress = uint8(word & 0x7F)
		s.pendingValid = true
	case OpER2:
		if s.pendingValid {
			if s.pendingWrite {
				s.RegisterFile[s.pendingAddress] = wordLSBFirst(s.drIn, s.DataWidth)
			}
			s.pendingValid = false
		}
	}
}

func (s *Simulator) statusWord() Status {
	st := StatusJTAGActive
	if s.done {
		st |= StatusDone
	}
	if s.iscEnabled {
		st |= StatusISCEnabled | StatusWriteable
	}
	if s.busyPolls > 0 {
		st |= StatusBusy
	}
	if s.stickyFail {
		st |= StatusFail
	}
	return st | Status(s.errorCode)<<statusErrorShift
}

// spiShift clocks one bit of a background SPI frame. The flash drives each
// response byte based on the frame bytes it has fully received, so the byte
// to present is computed at every byte boundary.
func (s *Simulator) spiShift(tdi bool) bool {
	bitInByte := s.spiBits % 8
	if bitInByte == 0 {
		s.spiOutByte = s.Flash.respond(s.spiCmd)
	}
	tdo := s.spiOutByte&(0x80>>uint(bitInByte)) != 0

	s.spiCurByte <<= 1
	if tdi {
		s.spiCurByte |= 1
	}
	s.spiBits++
	if s.spiBits%8 == 0 {
		s.spiCmd = append(s.spiCmd, s.spiCurByte)
		s.spiCurByte = 0
	}
	return tdo
}

// FlashModel emulates the SPI NOR flash behind the FPGA: enough of the
// W25Q-style command set for the flash bridge to identify, erase, program
// and read it back. Cells the model has never written read as erased.
type FlashModel struct {
	JEDEC    [3]byte // manufacturer, memory type, capacity
	DeviceID byte    // legacy READ_ID device byte
	UID      [8]byte // factory unique ID

	mem          map[uint32]byte
	writeEnabled bool
	busyPolls    int

	// Counters for assertions.
	EnableWriteCount int
	PageWrites       []uint32
	EraseCount       int
	StatusWrites     int
	ResetCount       int
}

// NewFlashModel returns an erased flash identifying as a Winbond W25Q32.
func NewFlashModel() *FlashModel {
	return &FlashModel{
		JEDEC:    [3]byte{0xEF, 0x40, 0x16},
		DeviceID: 0x15,
		mem:      make(map[uint32]byte),
	}
}

// Preload fills flash contents without going through the command set.
func (f *FlashModel) Preload(address uint32, data []byte) {
	for i, b := range data {
		f.mem[address+uint32(i)] = b
	}
}

// ReadByte returns the byte at address; erased cells read 0xFF.
func (f *FlashModel) ReadByte(address uint32) byte {
	if b, ok := f.mem[address]; ok {
		return b
	}
	return 0xFF
}

func (f *FlashModel) status() byte {
	var st byte
	if f.busyPolls > 0 {
		st |= flashBusyMask
	}
	if f.writeEnabled {
		st |= flashWriteEnableMask
	}
	return st
}

// respond produces the byte driven onto the bus while the host clocks the
// frame byte at position len(received).
func (f *FlashModel) respond(received []byte) byte {
	pos := len(received)
	if pos == 0 {
		return 0xFF
	}
	switch FlashOpcode(received[0]) {
	case FlashReadStatus1:
		st := f.status()
		if pos == 1 && f.busyPolls > 0 {
			f.busyPolls--
		}
		return st
	case FlashReadJEDECID:
		if pos <= 3 {
			return f.JEDEC[pos-1]
		}
	case FlashReadID:
		switch pos {
		case 4:
			return f.JEDEC[0]
		case 5:
			return f.DeviceID
		}
	case FlashReadUID:
		if pos >= 5 && pos < 5+len(f.UID) {
			return f.UID[pos-5]
		}
	case FlashReadPage:
		if pos >= 4 {
			address := be24(received[1:4])
			return f.ReadByte(address + uint32(pos-4))
		}
	}
	return 0xFF
}

// execute applies a completed frame once chip select deasserts.
func (f *FlashModel) execute(frame []byte) {
	if len(frame) == 0 {
		return
	}
	switch FlashOpcode(frame[0]) {
	case FlashEnableWrite:
		f.writeEnabled = true
		f.EnableWriteCount++
	case FlashChipErase:
		if f.writeEnabled {
			f.mem = make(map[uint32]byte)
			f.busyPolls = 2
			f.EraseCount++
		}
		f.writeEnabled = false
	case FlashWritePage:
		if f.writeEnabled && len(frame) >= 4 {
			address := be24(frame[1:4])
			f.Preload(address, frame[4:])
			f.PageWrites = append(f.PageWrites, address)
			f.busyPolls = 1
		}
		f.writeEnabled = false
	case FlashWriteStatus1:
		if f.writeEnabled {
			f.StatusWrites++
		}
		f.writeEnabled = false
	case FlashReset:
		f.ResetCount++
	}
}

func be24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// bitsOfWord spreads the low bits of value into width bits, LSB first.
func bitsOfWord(value uint64, width int) []bool {
	bits := make([]bool, width)
	for i := 0; i < width && i < 64; i++ {
		bits[i] = value&(1<<uint(i)) != 0
	}
	return bits
}

// bitsOfBEWord lays a 32-bit word out the way the ECP5 shifts its status
// and usercode registers: high byte first, each byte LSB first.
func bitsOfBEWord(value uint32) []bool {
	bits := make([]bool, 0, 32)
	for k := 0; k < 4; k++ {
		b := byte(value >> uint(24-8*k))
		for i := 0; i < 8; i++ {
			bits = append(bits, b&(1<<uint(i)) != 0)
		}
	}
	return bits
}

func onesFifo(width int) []bool {
	bits := make([]bool, width)
	for i := range bits {
		bits[i] = true
	}
	return bits
}

// wordLSBFirst assembles the last width shifted bits into an integer, the
// way a width-wide register would hold them at update time.
func wordLSBFirst(bits []bool, width int) uint64 {
	if width < len(bits) {
		bits = bits[len(bits)-width:]
	}
	var v uint64
	for i, bit := range bits {
		if i >= 64 {
			break
		}
		if bit {
			v |= 1 << uint(i)
		}
	}
	return v
}

// bytesMSBFirst packs a bit stream into bytes MSB first, the order the
// configuration logic consumes burst data in.
func bytesMSBFirst(bits []bool) []byte {
	out := make([]byte, 0, len(bits)/8)
	var cur byte
	for i, bit := range bits {
		cur <<= 1
		if bit {
			cur |= 1
		}
		if i%8 == 7 {
			out = append(out, cur)
			cur = 0
		}
	}
	return out
}
