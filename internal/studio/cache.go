package studio

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// AssetCache stores generated narration audio on disk so replaying the same
// poem does not hit the generation service again. Entries are keyed by a
// digest of the scene text and compressed with zstd; a corrupt or missing
// entry is treated as a miss.
type AssetCache struct {
	dir     string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewAssetCache opens (creating if needed) a cache rooted at dir.
func NewAssetCache(dir string) (*AssetCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create cache directory: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create zstd decoder: %w", err)
	}

	return &AssetCache{dir: dir, encoder: enc, decoder: dec}, nil
}

func (c *AssetCache) path(text string) string {
	sum := sha256.Sum256([]byte(text))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".pcm.zst")
}

// Narration returns the cached audio for the given scene text, if present.
func (c *AssetCache) Narration(text string) ([]byte, bool) {
	data, err := os.ReadFile(c.path(text))
	if err != nil {
		return nil, false
	}
	decoded, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		// Corrupt entry. Drop it and regenerate.
		_ = os.Remove(c.path(text))
		return nil, false
	}
	return decoded, true
}

// PutNarration stores generated audio for the given scene text. Failures
// only cost a regeneration next run, so they are returned for logging and
// nothing more.
func (c *AssetCache) PutNarration(text string, audio []byte) error {
	compressed := c.encoder.EncodeAll(audio, nil)

	tmp, err := os.CreateTemp(c.dir, "narration-*.tmp")
	if err != nil {
		return fmt.Errorf("unable to create cache entry: %w", err)
	}
	if _, err := tmp.Write(compressed); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("unable to write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("unable to close cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path(text)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("unable to commit cache entry: %w", err)
	}
	return nil
}
