package protocol

// Transfer geometry.
const (
	// PacketSize is the bulk max packet size of every token endpoint.
	// A transfer shorter than a multiple of it ends a message.
	PacketSize = 64

	// ChunkSize is the token's buffer size for plaintext input.
	ChunkSize = 32768

	// MaxRead bounds a single streamed read.
	MaxRead = ChunkSize
)

// Authenticated-encryption frame layout: nonce || ciphertext || tag.
const (
	NonceSize     = 24
	TagSize       = 16
	FrameOverhead = NonceSize + TagSize

	// FrameSize is the ciphertext frame produced for one full chunk and
	// the chunk size used when uploading ciphertext for decryption.
	FrameSize = ChunkSize + FrameOverhead
)

// Fixed response sizes.
const (
	SignatureSize    = 32
	VerifyResultSize = 1
	KeyIDSize        = 16
	PublicKeySize    = 32
	MaxNameSize      = 32
)

// Verify result bytes.
const (
	VerifyFailed byte = 0
	VerifyOK     byte = 1
)

// ErrorPrefix starts every error report the token writes to its control
// output endpoint.
const ErrorPrefix = "err: "
