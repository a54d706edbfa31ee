package symbols

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

//MemoryBackend 内存纹理, stands in for a graphics device
type MemoryBackend struct {
	// MaxBytes limits resident texture memory, 0 means unlimited.
	MaxBytes int64
	// FailOn makes uploads of matching symbols fail.
	FailOn func(symbol *MapSymbol) bool

	mu       sync.Mutex
	bytes    int64
	textures int
	uploads  int
	released int
}

//Texture 纹理
type Texture struct {
	Symbol string
	Width  int
	Height int
	Pix    []byte

	backend  *MemoryBackend
	released atomic.Bool
}

func (b *MemoryBackend) Upload(symbol *MapSymbol) (GPUResource, error) {
	if b.FailOn != nil && b.FailOn(symbol) {
		return nil, errors.Errorf("upload of %q rejected", symbol.Name)
	}
	bounds := symbol.Bitmap.Bounds()
	size := int64(len(symbol.Bitmap.Pix))

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.MaxBytes > 0 && b.bytes+size > b.MaxBytes {
		return nil, errors.Errorf("out of texture memory: %d+%d > %d bytes", b.bytes, size, b.MaxBytes)
	}
	pix := make([]byte, size)
	copy(pix, symbol.Bitmap.Pix)
	b.bytes += size
	b.textures++
	b.uploads++
	gpuBytes.Add(float64(size))
	return &Texture{
		Symbol:  symbol.Name,
		Width:   bounds.Dx(),
		Height:  bounds.Dy(),
		Pix:     pix,
		backend: b,
	}, nil
}

// Release frees the texture. A second release is a programming error.
func (t *Texture) Release() {
	if !t.released.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("texture of %q released twice", t.Symbol))
	}
	b := t.backend
	size := int64(len(t.Pix))
	b.mu.Lock()
	b.bytes -= size
	b.textures--
	b.released++
	b.mu.Unlock()
	gpuBytes.Sub(float64(size))
	t.Pix = nil
}

//Released 是否已释放
func (t *Texture) Released() bool {
	return t.released.Load()
}

//MemoryStats 统计
type MemoryStats struct {
	Bytes    int64 `json:"bytes"`
	Textures int   `json:"textures"`
	Uploads  int   `json:"uploads"`
	Released int   `json:"released"`
}

func (b *MemoryBackend) Stats() MemoryStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return MemoryStats{Bytes: b.bytes, Textures: b.textures, Uploads: b.uploads, Released: b.released}
}
