package minicdn

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"
	"sync/atomic"
	"time"
)

// tempCounter starts at a random value so two processes writing into the
// same directory in the same second still pick different names.
var tempCounter = func() uint32 {
	var b [4]byte
	_, _ = io.ReadFull(rand.Reader, b[:])
	return binary.BigEndian.Uint32(b[:])
}()

// newID returns a 10-byte hex identifier used to name temporary snapshot
// files. Layout:
//
//   - 4 bytes: Unix seconds
//   - 2 bytes: process id
//   - 4 bytes: counter, incremented atomically
func newID() string {
	var id [10]byte

	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	binary.BigEndian.PutUint16(id[4:6], uint16(os.Getpid()))
	binary.BigEndian.PutUint32(id[6:10], atomic.AddUint32(&tempCounter, 1))

	return hex.EncodeToString(id[:])
}
