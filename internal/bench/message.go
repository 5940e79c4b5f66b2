package bench

import (
	"bytes"
	"encoding/binary"
	"math/rand/v2"

	"echobench/internal/config"
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// stampSize is the widest sequence stamp written in front of the sentinel.
const stampSize = 8

// composer builds the request bytes for one worker. Zero and pattern modes
// reuse a single buffer; random mode refills the body before every message.
// Every send carries a sequence stamp in the bytes just before the sentinel,
// up to stampSize bytes wide, so a late echo can be told apart from the
// answer to the send in flight. Messages shorter than two bytes carry no
// stamp.
type composer struct {
	mode config.PayloadMode
	buf  []byte
	rng  *rand.Rand

	seq       uint64
	stampFrom int // first stamp byte; equals len(buf)-1 when there is none
}

func newComposer(mode config.PayloadMode, length int, seed uint64, worker int) *composer {
	c := &composer{
		mode:      mode,
		buf:       make([]byte, length),
		stampFrom: length - 1 - min(stampSize, length-1),
	}
	switch mode {
	case config.PayloadPattern:
		for i := range c.buf {
			c.buf[i] = byte(i % 256)
		}
	case config.PayloadRandom:
		c.rng = rand.New(rand.NewPCG(seed, uint64(worker)))
	}
	c.buf[length-1] = config.Sentinel
	return c
}

// next returns the next message with a fresh stamp. The slice is only valid
// until the following call to next or stamp.
func (c *composer) next() []byte {
	if c.rng != nil {
		body := c.buf[:c.stampFrom]
		for i := range body {
			body[i] = alphanumeric[c.rng.IntN(len(alphanumeric))]
		}
	}
	c.stamp()
	return c.buf
}

// stamp writes the next sequence number into the current message and
// returns it as read back by stampOf.
func (c *composer) stamp() uint64 {
	c.seq++
	var b [stampSize]byte
	binary.BigEndian.PutUint64(b[:], c.seq)
	copy(c.buf[c.stampFrom:len(c.buf)-1], b[stampSize-c.width():])
	s, _ := c.stampOf(c.buf)
	return s
}

func (c *composer) width() int {
	return len(c.buf) - 1 - c.stampFrom
}

// stampOf reads the stamp of a received message. ok is false when messages
// are too short to carry one or p has the wrong length.
func (c *composer) stampOf(p []byte) (seq uint64, ok bool) {
	if c.width() == 0 || len(p) != len(c.buf) {
		return 0, false
	}
	var b [stampSize]byte
	copy(b[stampSize-c.width():], p[c.stampFrom:len(p)-1])
	return binary.BigEndian.Uint64(b[:]), true
}

// sameContent reports whether p equals the current message outside the
// stamp.
func (c *composer) sameContent(p []byte) bool {
	return len(p) == len(c.buf) &&
		bytes.Equal(p[:c.stampFrom], c.buf[:c.stampFrom]) &&
		p[len(p)-1] == c.buf[len(c.buf)-1]
}
