package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDmsgHeaderRoundTrip(t *testing.T) {
	var buf = make([]byte, dmsgHeaderLen)
	EncodeHeader(buf, DmsgEncrypted|DmsgReplyRequired, 4096)

	var bitField, plen = DecodeHeader(buf)
	assert.Equal(t, DmsgEncrypted|DmsgReplyRequired, bitField)
	assert.Equal(t, uint32(4096), plen)
}

func TestDmsgAttachTracksHeaderFields(t *testing.T) {
	var d Dmsg
	assert.False(t, d.Present())

	d.Attach(DmsgEncrypted, 13)
	assert.True(t, d.Present())
	assert.True(t, d.IsEncrypted())
	assert.Equal(t, uint32(13), d.Plen())

	d.Reset()
	assert.False(t, d.Present())
	assert.False(t, d.IsEncrypted())
}

func TestDmsgEncryptDecryptRoundTrip(t *testing.T) {
	var key = []byte("0123456789abcdef") // AES-128
	var iv [16]byte
	copy(iv[:], "anivthatisfull16")

	var plain = []byte("hello replication peer")
	var body = append([]byte(nil), plain...)

	var enc Dmsg
	var err = enc.EncryptInPlace(key, iv, body)
	assert.NoError(t, err)
	assert.NotEqual(t, plain, body)

	var dec Dmsg
	dec.Attach(DmsgEncrypted, uint32(len(body)))
	dec.iv = iv
	err = dec.DecryptInPlace(key, body)
	assert.NoError(t, err)
	assert.Equal(t, plain, body)
}

func TestDmsgEncryptRejectsBadKeyLength(t *testing.T) {
	var d Dmsg
	var iv [16]byte
	var err = d.EncryptInPlace([]byte("tooshort"), iv, []byte("x"))
	assert.Error(t, err)
}
