package httpstream

import (
	"encoding/binary"

	"github.com/ivugurura/sonos-caster/internal/audio"
)

// BuildWAVHeader returns a canonical 44-byte RIFF/WAVE header declaring
// dataSize bytes of PCM payload. A fresh header is built per HTTP
// connection since Sonos may reconnect mid-stream.
func BuildWAVHeader(format audio.Format, dataSize uint32) []byte {
	h := make([]byte, 44)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], dataSize+36)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(h[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(h[22:24], uint16(format.Channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(format.SampleRate))
	byteRate := format.SampleRate * format.Channels * format.BitsPerSample / 8
	binary.LittleEndian.PutUint32(h[28:32], uint32(byteRate))
	blockAlign := format.Channels * format.BitsPerSample / 8
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], uint16(format.BitsPerSample))
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataSize)
	return h
}
