package protocol

// Packet framing: a 3-byte little-endian length prefix plus a 1-byte
// sequence number, chunked at 0xffffff bytes per sub-packet — the same
// framing mymysql's native/packet.go speaks against a *bufio.Reader.
// Here the framing is resumable across non-blocking read boundaries:
// readPacket can be called repeatedly after a WaitRead fires and picks
// up exactly where the last call left off.

type pktReadStage uint8

const (
	pktStageHeader pktReadStage = iota
	pktStagePayload
)

// pktReader accumulates one logical packet (possibly spanning several
// 0xffffff-byte wire sub-packets) across repeated readPacket calls.
type pktReader struct {
	stage  pktReadStage
	remain int
	last   bool
	acc    []byte
}

func (pr *pktReader) reset() { *pr = pktReader{} }

// readPacket resumes assembling the next logical packet. On success it
// returns the complete payload and resets internal state for the next
// packet; on blocking it returns the WaitSet needed and leaves state
// untouched so the next call can resume.
func (pr *pktReader) readPacket(sock *rawSocket, seq *byte) ([]byte, bool, WaitSet, error) {
	for {
		switch pr.stage {
		case pktStageHeader:
			ok, ws, err := sock.ensure(4)
			if err != nil {
				return nil, false, 0, err
			}
			if !ok {
				return nil, false, ws, nil
			}
			hdr := sock.peek(4)
			length := decodeU24(hdr[0:3])
			gotSeq := hdr[3]
			sock.advance(4)
			if gotSeq != *seq {
				return nil, false, 0, ErrPacketSeq
			}
			*seq++
			pr.remain = int(length)
			pr.last = length != 0xffffff
			pr.stage = pktStagePayload
		case pktStagePayload:
			ok, ws, err := sock.ensure(pr.remain)
			if err != nil {
				return nil, false, 0, err
			}
			if !ok {
				return nil, false, ws, nil
			}
			if pr.remain > 0 {
				pr.acc = append(pr.acc, sock.peek(pr.remain)...)
				sock.advance(pr.remain)
			}
			if pr.last {
				payload := pr.acc
				if payload == nil {
					payload = []byte{}
				}
				pr.reset()
				return payload, true, 0, nil
			}
			pr.stage = pktStageHeader
		}
	}
}

// pktWriter drives a single queued write burst (one or more chunked
// sub-packets already flattened into the socket's write buffer) to
// completion, resumable across WaitWrite.
type pktWriter struct {
	queued bool
}

func (pw *pktWriter) reset() { pw.queued = false }

// writePacket frames payload (chunking at 0xffffff) and flushes it.
func (pw *pktWriter) writePacket(sock *rawSocket, seq *byte, payload []byte) (bool, WaitSet, error) {
	if !pw.queued {
		framed := frame(payload, seq)
		sock.queueWrite(framed)
		pw.queued = true
	}
	ok, ws, err := sock.flush()
	if err != nil {
		return false, 0, err
	}
	if !ok {
		return false, ws, nil
	}
	pw.reset()
	return true, 0, nil
}

func frame(payload []byte, seq *byte) []byte {
	out := make([]byte, 0, len(payload)+4+4)
	remain := payload
	for {
		chunk := remain
		last := true
		// >= rather than >: a payload that is an exact multiple of the
		// chunk size ends with a trailing empty sub-packet to signal the
		// true end, matching mymysql's pktWriter.write behaviour for that
		// edge case.
		if len(chunk) >= 0xffffff {
			chunk = chunk[:0xffffff]
			last = false
		}
		out = append(out, encodeU24(uint32(len(chunk)))...)
		out = append(out, *seq)
		*seq++
		out = append(out, chunk...)
		remain = remain[len(chunk):]
		if last {
			break
		}
	}
	return out
}
