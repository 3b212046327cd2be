package interfaces

import "context"

// Assembler turns a directory of sequentially numbered frames
// (frame_000000.png, frame_000001.png, ...) into one video file
type Assembler interface {
	Assemble(ctx context.Context, frameDir, outputPath string, fps int) error
}
