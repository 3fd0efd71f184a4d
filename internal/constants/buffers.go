package constants

// SSE 扫描缓冲区
const (
	SSEScannerInitialBuffer = 64 * 1024
	SSEScannerMaxBuffer     = 8 * 1024 * 1024
)
