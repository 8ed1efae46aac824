package protocol

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Compressed packet envelope: a 3-byte compressed-payload length, a
// 1-byte sequence number (independent of the uncompressed packet
// sequence), a 3-byte uncompressed length (0 means the payload below
// is stored rather than deflated, MySQL's rule for payloads under ~50
// bytes where compression would only add overhead), followed by the
// payload itself. Activated once CLIENT_COMPRESS has been negotiated
// and ConnectConfig.Compress is true.
//
// mymysql never implemented compression (native/ has no compress.go);
// this is grounded on the protocol's published framing plus
// klauspost/compress/zlib, the zlib implementation the rest of the
// retrieval pack (vitess) depends on for the same purpose.

const compressHeaderLen = 7

type compressReader struct {
	seq byte
}

// decompressFrame reads one compressed envelope from sock and returns
// the uncompressed bytes it contains, or the WaitSet needed to read
// more.
func (cr *compressReader) decompressFrame(sock *rawSocket) ([]byte, bool, WaitSet, error) {
	ok, ws, err := sock.ensure(compressHeaderLen)
	if err != nil {
		return nil, false, 0, err
	}
	if !ok {
		return nil, false, ws, nil
	}
	hdr := sock.peek(compressHeaderLen)
	compLen := int(decodeU24(hdr[0:3]))
	gotSeq := hdr[3]
	uncompLen := int(decodeU24(hdr[4:7]))
	if gotSeq != cr.seq {
		return nil, false, 0, ErrPacketSeq
	}
	cr.seq++

	ok, ws, err = sock.ensure(compressHeaderLen + compLen)
	if err != nil {
		return nil, false, 0, err
	}
	if !ok {
		return nil, false, ws, nil
	}
	body := append([]byte{}, sock.peek(compressHeaderLen+compLen)[compressHeaderLen:]...)
	sock.advance(compressHeaderLen + compLen)

	if uncompLen == 0 {
		return body, true, 0, nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, false, 0, err
	}
	defer zr.Close()
	out := make([]byte, uncompLen)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, false, 0, err
	}
	return out, true, 0, nil
}

type compressWriter struct {
	seq byte
}

// compressFrame wraps payload (an already-framed sequence of regular
// packets) in one compressed envelope. Payloads smaller than 50 bytes
// are stored uncompressed per the protocol's own guidance, since
// deflate overhead would exceed the savings.
func (cw *compressWriter) compressFrame(payload []byte) []byte {
	const minCompressSize = 50
	var body []byte
	var uncompLen int
	if len(payload) < minCompressSize {
		body = payload
		uncompLen = 0
	} else {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		zw.Write(payload)
		zw.Close()
		body = buf.Bytes()
		uncompLen = len(payload)
	}
	out := make([]byte, 0, compressHeaderLen+len(body))
	out = append(out, encodeU24(uint32(len(body)))...)
	out = append(out, cw.seq)
	cw.seq++
	out = append(out, encodeU24(uint32(uncompLen))...)
	out = append(out, body...)
	return out
}
