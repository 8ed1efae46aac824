package protocol

// greeting is the decoded initial handshake packet (Protocol::HandshakeV10).
type greeting struct {
	protocolVersion byte
	serverVersion   string
	threadID        uint32
	scramble        []byte
	serverCaps      uint32
	charset         byte
	status          uint16
	authPluginName  string
}

func decodeGreeting(b []byte) (*greeting, error) {
	if len(b) < 1 {
		return nil, ErrMalformed
	}
	g := &greeting{protocolVersion: b[0]}
	off := 1
	ver, n, err := nulTerminated(b, off)
	if err != nil {
		return nil, err
	}
	g.serverVersion = string(ver)
	off += n
	if off+4 > len(b) {
		return nil, ErrMalformed
	}
	g.threadID = decodeU32(b[off : off+4])
	off += 4
	if off+8 > len(b) {
		return nil, ErrMalformed
	}
	scramble := append([]byte{}, b[off:off+8]...)
	off += 8
	off++ // filler
	if off+2 > len(b) {
		return nil, ErrMalformed
	}
	capLow := uint32(decodeU16(b[off : off+2]))
	off += 2
	if off >= len(b) {
		return nil, ErrMalformed
	}
	g.charset = b[off]
	off++
	if off+2 > len(b) {
		return nil, ErrMalformed
	}
	g.status = decodeU16(b[off : off+2])
	off += 2
	if off+2 > len(b) {
		return nil, ErrMalformed
	}
	capHigh := uint32(decodeU16(b[off : off+2]))
	off += 2
	g.serverCaps = capLow | capHigh<<16

	authPluginDataLen := 0
	if off < len(b) {
		authPluginDataLen = int(b[off])
	}
	off++
	off += 10 // reserved

	if g.serverCaps&capProtocol41 == 0 {
		return nil, ErrOldProtocol
	}

	scrambleLen2 := authPluginDataLen - 8
	if scrambleLen2 < 13 {
		scrambleLen2 = 13
	}
	if off+scrambleLen2 > len(b) {
		return nil, ErrMalformed
	}
	scramble = append(scramble, b[off:off+scrambleLen2-1]...) // drop trailing NUL
	off += scrambleLen2
	g.scramble = scramble

	if g.serverCaps&capPluginAuth != 0 && off < len(b) {
		name, _, err := nulTerminated(b, off)
		if err != nil {
			// Some servers omit the trailing NUL on the last field.
			name = b[off:]
		}
		g.authPluginName = string(name)
	}
	if g.authPluginName == "" {
		g.authPluginName = "mysql_native_password"
	}
	return g, nil
}

// buildHandshakeResponse builds Protocol::HandshakeResponse41.
func buildHandshakeResponse(g *greeting, cfg ConnectConfig, scrambled []byte, clientCaps uint32) []byte {
	out := make([]byte, 0, 128+len(cfg.User)+len(cfg.Database))
	out = append(out, encodeU32(clientCaps)...)
	out = append(out, encodeU32(1<<24-1)...) // max packet size
	out = append(out, g.charset)
	out = append(out, make([]byte, 23)...)
	out = append(out, []byte(cfg.User)...)
	out = append(out, 0)

	if clientCaps&capPluginAuthLenencData != 0 {
		out = appendLenEncInt(out, uint64(len(scrambled)))
		out = append(out, scrambled...)
	} else {
		out = append(out, byte(len(scrambled)))
		out = append(out, scrambled...)
	}
	if clientCaps&capConnectWithDB != 0 {
		out = append(out, []byte(cfg.Database)...)
		out = append(out, 0)
	}
	if clientCaps&capPluginAuth != 0 {
		out = append(out, []byte(g.authPluginName)...)
		out = append(out, 0)
	}
	return out
}

// decodeAuthSwitch decodes an Auth Switch Request packet (lead byte
// 0xfe, distinguished from a plain EOF by context: it is only ever the
// server's reply to a handshake response, never to a command).
func decodeAuthSwitch(b []byte) (plugin string, data []byte, err error) {
	name, n, err := nulTerminated(b, 1)
	if err != nil {
		return "", nil, err
	}
	return string(name), b[1+n:], nil
}

func clientCapabilities(cfg ConnectConfig, serverCaps uint32) uint32 {
	caps := uint32(capLongPassword | capFoundRows | capLongFlag | capProtocol41 |
		capTransactions | capSecureConnection | capPluginAuth)
	if cfg.Database != "" {
		caps |= capConnectWithDB
	}
	if cfg.MultiStatements {
		caps |= capMultiStatements | capMultiResults | capPSMultiResults
	}
	if cfg.Compress {
		caps |= capCompress
	}
	return caps & (serverCaps | 0xffff0000)
}
