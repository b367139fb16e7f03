package engine

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/pkg/errors"
)

// dmsgHeaderLen is the fixed size of the internode envelope header: a one
// byte bit field followed by a four byte big-endian payload length.
const dmsgHeaderLen = 5

// Dmsg bit field flags.
const (
	DmsgEncrypted uint8 = 1 << iota
	DmsgReplyRequired
	DmsgIsReply
)

// Dmsg is the internode envelope wrapping a message body exchanged between
// replication-plane peers: a bit field, a payload length, and (when
// DmsgEncrypted is set) an AES-CFB encrypted body sharing the message's
// chain segments in place. A ciphertext body may arrive split across
// several receive-driver calls (spec 4.6 step 6), so the decrypting stream
// is held open across calls rather than rebuilt from the stored IV each
// time -- rebuilding it would restart the keystream and re-scramble bytes
// already decrypted by a prior call.
type Dmsg struct {
	present  bool
	bitField uint8
	plen     uint32
	iv       [aes.BlockSize]byte

	stream cipher.Stream // lazily built on the first DecryptInPlace call
}

// Present reports whether an envelope has been attached to the owning
// message.
func (d *Dmsg) Present() bool { return d.present }

// Reset clears the envelope, used when a Msg is returned to its pool.
func (d *Dmsg) Reset() { *d = Dmsg{} }

// Attach marks the envelope present with the given bit field and payload
// length, as decoded from a header on the wire.
func (d *Dmsg) Attach(bitField uint8, plen uint32) {
	d.present = true
	d.bitField = bitField
	d.plen = plen
}

func (d *Dmsg) BitField() uint8  { return d.bitField }
func (d *Dmsg) Plen() uint32     { return d.plen }
func (d *Dmsg) IsEncrypted() bool { return d.bitField&DmsgEncrypted != 0 }

// EncodeHeader writes the fixed five byte header into dst, which must be at
// least dmsgHeaderLen bytes.
func EncodeHeader(dst []byte, bitField uint8, plen uint32) {
	dst[0] = bitField
	dst[1] = byte(plen >> 24)
	dst[2] = byte(plen >> 16)
	dst[3] = byte(plen >> 8)
	dst[4] = byte(plen)
}

// DecodeHeader reads the fixed five byte header from src.
func DecodeHeader(src []byte) (bitField uint8, plen uint32) {
	bitField = src[0]
	plen = uint32(src[1])<<24 | uint32(src[2])<<16 | uint32(src[3])<<8 | uint32(src[4])
	return
}

// DecryptInPlace decrypts an AES-CFB body in place using key and the IV
// stored alongside the envelope, as performed by the receive driver
// immediately after a replication-plane segment is filled (spec 4.6). body
// must be exactly the bytes just written by this call -- not the segment's
// whole unread window -- so that bytes decrypted by an earlier call on the
// same envelope are never handed back through the stream a second time.
// Plen is decremented by len(body), tracking how much ciphertext remains
// before the chunk is complete.
func (d *Dmsg) DecryptInPlace(key []byte, body []byte) error {
	var stream, err = d.decryptStream(key)
	if err != nil {
		return err
	}
	stream.XORKeyStream(body, body)

	if uint32(len(body)) >= d.plen {
		d.plen = 0
	} else {
		d.plen -= uint32(len(body))
	}
	return nil
}

// decryptStream returns the envelope's persistent CFB decrypting stream,
// building it from key and the stored IV on first use.
func (d *Dmsg) decryptStream(key []byte) (cipher.Stream, error) {
	if d.stream == nil {
		var block, err = aes.NewCipher(key)
		if err != nil {
			return nil, errors.Wrap(err, "dmsg: new cipher")
		}
		d.stream = cipher.NewCFBDecrypter(block, d.iv[:])
	}
	return d.stream, nil
}

// EncryptInPlace mirrors DecryptInPlace for the send path, storing the
// caller-supplied iv in the envelope before encrypting.
func (d *Dmsg) EncryptInPlace(key []byte, iv [aes.BlockSize]byte, body []byte) error {
	d.iv = iv
	var block, err = aes.NewCipher(key)
	if err != nil {
		return errors.Wrap(err, "dmsg: new cipher")
	}
	var stream = cipher.NewCFBEncrypter(block, d.iv[:])
	stream.XORKeyStream(body, body)
	return nil
}
