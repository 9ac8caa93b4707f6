// Package control exposes the playback engine on a local unix socket so
// other newsreel processes can drive a running player.
package control

// Frame opcodes.
const (
	opRequest = 1
	opReply   = 2
	opClose   = 3
)
