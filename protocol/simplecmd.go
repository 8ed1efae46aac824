package protocol

// simpleCmd drives the shared shape most one-packet-out/one-packet-in
// commands follow: write a single command packet, read a single
// response packet, interpret it as OK or ERR. Ping, SelectDb,
// ChangeUser, ResetConnection, StmtClose and StmtReset are all
// instances of this shape with different command bytes and response
// handling, so they share one sub-machine instead of five near-copies.
type simpleCmdPhase uint8

const (
	simpleCmdWriting simpleCmdPhase = iota
	simpleCmdReading
	simpleCmdDone
)

type simpleCmd struct {
	phase   simpleCmdPhase
	noReply bool
}

func (s *simpleCmd) reset() { *s = simpleCmd{} }

// drive writes payload then, unless noReply, reads and returns one
// response packet. COM_STMT_CLOSE famously sends no reply at all.
func (s *simpleCmd) drive(c *Conn, payload []byte, noReply bool) ([]byte, bool, WaitSet, error) {
	s.noReply = noReply
	for {
		switch s.phase {
		case simpleCmdWriting:
			done, ws, err := c.pw.writePacket(c.sock, &c.seq, payload)
			if err != nil {
				return nil, false, 0, err
			}
			if !done {
				return nil, false, ws, nil
			}
			if s.noReply {
				s.reset()
				return nil, true, 0, nil
			}
			s.phase = simpleCmdReading
		case simpleCmdReading:
			resp, done, ws, err := c.pr.readPacket(c.sock, &c.seq)
			if err != nil {
				return nil, false, 0, err
			}
			if !done {
				return nil, false, ws, nil
			}
			s.reset()
			return resp, true, 0, nil
		}
	}
}

func (c *Conn) beginCommand(cmdByte byte, arg []byte) []byte {
	c.resetSeq()
	payload := make([]byte, 0, 1+len(arg))
	payload = append(payload, cmdByte)
	payload = append(payload, arg...)
	return payload
}

func (c *Conn) applyOKOrErr(resp []byte) (bool, error) {
	if isErrPacket(resp) {
		return false, decodeErrPacket(resp)
	}
	ok, err := decodeOKPacket(resp)
	if err != nil {
		return false, err
	}
	c.status = ok.Status
	c.warnings = ok.Warnings
	c.affectedRows = ok.AffectedRows
	c.lastInsertID = ok.InsertID
	c.lastInfo = ok.Info
	c.moreResults = ok.Status&statusMoreResultsExist != 0
	return true, nil
}

// PingStart/PingContinue implement COM_PING: a liveness probe with no
// arguments, OK on success.
func (c *Conn) PingStart() (WaitSet, bool, error) {
	c.simple.reset()
	payload := c.beginCommand(comPing, nil)
	return c.driveSimple(payload, false)
}

func (c *Conn) PingContinue(WaitSet) (WaitSet, bool, error) {
	return c.driveSimple(nil, false)
}

// SelectDbStart/SelectDbContinue implement COM_INIT_DB.
func (c *Conn) SelectDbStart(db string) (WaitSet, bool, error) {
	c.simple.reset()
	payload := c.beginCommand(comInitDB, []byte(db))
	return c.driveSimple(payload, false)
}

func (c *Conn) SelectDbContinue(WaitSet) (WaitSet, bool, error) {
	return c.driveSimple(nil, false)
}

// ResetConnectionStart/Continue implement COM_RESET_CONNECTION, which
// clears session state (temp tables, transactions, prepared
// statements) while keeping the same connection and authentication,
// the cheap leg of the Lifecycle Manager's Reset operation.
func (c *Conn) ResetConnectionStart() (WaitSet, bool, error) {
	c.simple.reset()
	payload := c.beginCommand(comResetConnection, nil)
	return c.driveSimple(payload, false)
}

func (c *Conn) ResetConnectionContinue(WaitSet) (WaitSet, bool, error) {
	return c.driveSimple(nil, false)
}

// ChangeUserStart/Continue implement COM_CHANGE_USER: re-authenticate
// as a different user on the same connection without reconnecting.
// The auth exchange here uses the connection's already-known scramble
// from the original handshake; a server that demands a fresh
// AuthSwitchRequest mid-COM_CHANGE_USER (rare, plugin-dependent) is
// not handled: the reply is only ever decoded as an OK or ERR packet.
func (c *Conn) ChangeUserStart(user, password, db string) (WaitSet, bool, error) {
	c.simple.reset()
	scrambled := scramblePassword(c.greet.authPluginName, password, c.greet.scramble)
	payload := make([]byte, 0, 64+len(user)+len(db))
	payload = append(payload, comChangeUser)
	payload = append(payload, []byte(user)...)
	payload = append(payload, 0)
	payload = append(payload, byte(len(scrambled)))
	payload = append(payload, scrambled...)
	payload = append(payload, []byte(db)...)
	payload = append(payload, 0)
	payload = append(payload, encodeU16(uint16(c.charset))...)
	c.resetSeq()
	return c.driveSimple(payload, false)
}

func (c *Conn) ChangeUserContinue(WaitSet) (WaitSet, bool, error) {
	return c.driveSimple(nil, false)
}

func (c *Conn) driveSimple(payload []byte, noReply bool) (WaitSet, bool, error) {
	resp, done, ws, err := c.simple.drive(c, payload, noReply)
	if err != nil {
		return 0, false, err
	}
	if !done {
		return ws, false, nil
	}
	if resp == nil {
		return 0, true, nil
	}
	_, err = c.applyOKOrErr(resp)
	if err != nil {
		return 0, false, err
	}
	return 0, true, nil
}
