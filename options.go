package aiomysql

import "time"

// Options is the pre-connect option bag spec.md §6 describes,
// persisted across Reset. There is no flag/env-parsing layer here —
// that is explicitly out of scope (spec.md §1) and left to the host
// application, which is expected to populate this struct literal
// itself.
type Options struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	Compress        bool
	MultiStatements bool
	Charset         string
	InitCommand     string

	// MaxPacketSize caps the largest single packet this client will
	// frame or accept, mirroring mymysql's Conn.SetMaxPktSize. Zero
	// means no explicit ceiling beyond the wire protocol's own
	// 0xffffff per-chunk limit.
	MaxPacketSize uint32

	SSLKey              string
	SSLCert             string
	SSLCA               string
	SSLCipher           string
	SSLVerifyServerCert bool
}
