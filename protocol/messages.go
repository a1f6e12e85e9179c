package protocol

// CmdReq carries one custom instruction from the host to the NPU.
type CmdReq struct {
	Funct uint32
	XS1   uint64
	XS2   uint64
}

// Type returns MsgCmdReq.
func (m *CmdReq) Type() MsgType { return MsgCmdReq }

// WireSize returns CmdReqSize.
func (m *CmdReq) WireSize() int { return CmdReqSize }

// MarshalBinary encodes the frame.
func (m *CmdReq) MarshalBinary() ([]byte, error) {
	buf := make([]byte, CmdReqSize)
	Header{Type: MsgCmdReq}.put(buf)
	ByteOrder.PutUint32(buf[8:12], m.Funct)
	ByteOrder.PutUint32(buf[12:16], 0)
	ByteOrder.PutUint64(buf[16:24], m.XS1)
	ByteOrder.PutUint64(buf[24:32], m.XS2)
	return buf, nil
}

// UnmarshalBinary decodes the frame.
func (m *CmdReq) UnmarshalBinary(data []byte) error {
	if err := checkFrame(data, CmdReqSize, MsgCmdReq); err != nil {
		return err
	}

	m.Funct = ByteOrder.Uint32(data[8:12])
	m.XS1 = ByteOrder.Uint64(data[16:24])
	m.XS2 = ByteOrder.Uint64(data[24:32])
	return nil
}

// CmdResp carries the scalar result of one command.
type CmdResp struct {
	Result uint64
}

// Type returns MsgCmdResp.
func (m *CmdResp) Type() MsgType { return MsgCmdResp }

// WireSize returns CmdRespSize.
func (m *CmdResp) WireSize() int { return CmdRespSize }

// MarshalBinary encodes the frame.
func (m *CmdResp) MarshalBinary() ([]byte, error) {
	buf := make([]byte, CmdRespSize)
	Header{Type: MsgCmdResp}.put(buf)
	ByteOrder.PutUint64(buf[8:16], m.Result)
	return buf, nil
}

// UnmarshalBinary decodes the frame.
func (m *CmdResp) UnmarshalBinary(data []byte) error {
	if err := checkFrame(data, CmdRespSize, MsgCmdResp); err != nil {
		return err
	}

	m.Result = ByteOrder.Uint64(data[8:16])
	return nil
}

// DMAReadReq asks the host to read Size bytes at Addr.
type DMAReadReq struct {
	Addr uint64
	Size uint32
}

// Type returns MsgDMAReadReq.
func (m *DMAReadReq) Type() MsgType { return MsgDMAReadReq }

// WireSize returns DMAReadReqSize.
func (m *DMAReadReq) WireSize() int { return DMAReadReqSize }

// MarshalBinary encodes the frame.
func (m *DMAReadReq) MarshalBinary() ([]byte, error) {
	buf := make([]byte, DMAReadReqSize)
	Header{Type: MsgDMAReadReq}.put(buf)
	ByteOrder.PutUint32(buf[8:12], m.Size)
	ByteOrder.PutUint32(buf[12:16], 0)
	ByteOrder.PutUint64(buf[16:24], m.Addr)
	return buf, nil
}

// UnmarshalBinary decodes the frame.
func (m *DMAReadReq) UnmarshalBinary(data []byte) error {
	if err := checkFrame(data, DMAReadReqSize, MsgDMAReadReq); err != nil {
		return err
	}

	m.Size = ByteOrder.Uint32(data[8:12])
	m.Addr = ByteOrder.Uint64(data[16:24])
	return nil
}

// DMAReadResp returns the data of a DMA read.
type DMAReadResp struct {
	Data Data128
}

// Type returns MsgDMAReadResp.
func (m *DMAReadResp) Type() MsgType { return MsgDMAReadResp }

// WireSize returns DMAReadRespSize.
func (m *DMAReadResp) WireSize() int { return DMAReadRespSize }

// MarshalBinary encodes the frame.
func (m *DMAReadResp) MarshalBinary() ([]byte, error) {
	buf := make([]byte, DMAReadRespSize)
	Header{Type: MsgDMAReadResp}.put(buf)
	ByteOrder.PutUint64(buf[8:16], m.Data.Lo)
	ByteOrder.PutUint64(buf[16:24], m.Data.Hi)
	return buf, nil
}

// UnmarshalBinary decodes the frame.
func (m *DMAReadResp) UnmarshalBinary(data []byte) error {
	if err := checkFrame(data, DMAReadRespSize, MsgDMAReadResp); err != nil {
		return err
	}

	m.Data.Lo = ByteOrder.Uint64(data[8:16])
	m.Data.Hi = ByteOrder.Uint64(data[16:24])
	return nil
}

// DMAWriteReq asks the host to write Size bytes of Data at Addr.
type DMAWriteReq struct {
	Addr uint64
	Data Data128
	Size uint32
}

// Type returns MsgDMAWriteReq.
func (m *DMAWriteReq) Type() MsgType { return MsgDMAWriteReq }

// WireSize returns DMAWriteReqSize.
func (m *DMAWriteReq) WireSize() int { return DMAWriteReqSize }

// MarshalBinary encodes the frame.
func (m *DMAWriteReq) MarshalBinary() ([]byte, error) {
	buf := make([]byte, DMAWriteReqSize)
	Header{Type: MsgDMAWriteReq}.put(buf)
	ByteOrder.PutUint32(buf[8:12], m.Size)
	ByteOrder.PutUint32(buf[12:16], 0)
	ByteOrder.PutUint64(buf[16:24], m.Addr)
	ByteOrder.PutUint64(buf[24:32], m.Data.Lo)
	ByteOrder.PutUint64(buf[32:40], m.Data.Hi)
	return buf, nil
}

// UnmarshalBinary decodes the frame.
func (m *DMAWriteReq) UnmarshalBinary(data []byte) error {
	if err := checkFrame(data, DMAWriteReqSize, MsgDMAWriteReq); err != nil {
		return err
	}

	m.Size = ByteOrder.Uint32(data[8:12])
	m.Addr = ByteOrder.Uint64(data[16:24])
	m.Data.Lo = ByteOrder.Uint64(data[24:32])
	m.Data.Hi = ByteOrder.Uint64(data[32:40])
	return nil
}

// DMAWriteResp acknowledges a DMA write. It has no payload besides a
// reserved word.
type DMAWriteResp struct{}

// Type returns MsgDMAWriteResp.
func (m *DMAWriteResp) Type() MsgType { return MsgDMAWriteResp }

// WireSize returns DMAWriteRespSize.
func (m *DMAWriteResp) WireSize() int { return DMAWriteRespSize }

// MarshalBinary encodes the frame.
func (m *DMAWriteResp) MarshalBinary() ([]byte, error) {
	buf := make([]byte, DMAWriteRespSize)
	Header{Type: MsgDMAWriteResp}.put(buf)
	return buf, nil
}

// UnmarshalBinary decodes the frame.
func (m *DMAWriteResp) UnmarshalBinary(data []byte) error {
	return checkFrame(data, DMAWriteRespSize, MsgDMAWriteResp)
}
