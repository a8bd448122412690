package assess

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// Artifact layout:
//
//	magic "FGMODEL\x00" | version uint16 BE | xxhash64(payload) uint64 BE | zstd(payload)
//
// payload is the gob encoding of a Model.
const (
	artifactMagic   = "FGMODEL\x00"
	artifactVersion = uint16(1)
	headerSize      = len(artifactMagic) + 2 + 8

	// MaxArtifactSize bounds both the compressed and the decoded payload.
	MaxArtifactSize = 256 << 20
)

// Encode writes m as an artifact.
func Encode(w io.Writer, m *Model) error {
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(m); err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}

	header := make([]byte, headerSize)
	copy(header, artifactMagic)
	binary.BigEndian.PutUint16(header[len(artifactMagic):], artifactVersion)
	binary.BigEndian.PutUint64(header[len(artifactMagic)+2:], xxhash.Sum64(payload.Bytes()))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write artifact header: %w", err)
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to create compressor: %w", err)
	}
	if _, err := zw.Write(payload.Bytes()); err != nil {
		zw.Close()
		return fmt.Errorf("failed to write artifact payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to flush artifact payload: %w", err)
	}
	return nil
}

// Decode reads and validates an artifact. Every failure wraps ErrArtifactCorrupt.
func Decode(r io.Reader) (*Model, error) {
	r = io.LimitReader(r, MaxArtifactSize+int64(headerSize))

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: truncated header", domain.ErrArtifactCorrupt)
	}
	if string(header[:len(artifactMagic)]) != artifactMagic {
		return nil, fmt.Errorf("%w: not a model artifact", domain.ErrArtifactCorrupt)
	}
	if v := binary.BigEndian.Uint16(header[len(artifactMagic):]); v != artifactVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", domain.ErrArtifactCorrupt, v)
	}
	sum := binary.BigEndian.Uint64(header[len(artifactMagic)+2:])

	zr, err := zstd.NewReader(r, zstd.WithDecoderMaxMemory(MaxArtifactSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArtifactCorrupt, err)
	}
	defer zr.Close()

	payload, err := io.ReadAll(io.LimitReader(zr, MaxArtifactSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArtifactCorrupt, err)
	}
	if len(payload) > MaxArtifactSize {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", domain.ErrArtifactCorrupt, MaxArtifactSize)
	}
	if xxhash.Sum64(payload) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", domain.ErrArtifactCorrupt)
	}

	var m Model
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArtifactCorrupt, err)
	}
	if err := m.Check(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArtifactCorrupt, err)
	}
	return &m, nil
}

// ErrModelSuperseded is returned when a versioned save finds that another
// model has replaced the requested version.
var ErrModelSuperseded = errors.New("serving model superseded")

// snapshot returns the serving model. A non-empty version must match it.
func (a *Assessor) snapshot(version string) (*Model, error) {
	m := a.model.Load()
	if m == nil {
		return nil, domain.ErrNotTrained
	}
	if version != "" && m.Version != version {
		return nil, fmt.Errorf("%w: want %s, serving %s", ErrModelSuperseded, version, m.Version)
	}
	return m, nil
}

// Save writes the serving model to w.
func (a *Assessor) Save(w io.Writer) error {
	m, err := a.snapshot("")
	if err != nil {
		return err
	}
	return Encode(w, m)
}

// Load replaces the serving model with the artifact read from r.
// On error the serving model is unchanged.
func (a *Assessor) Load(r io.Reader) error {
	m, err := Decode(r)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.model.Store(m)

	a.logger.Info("model loaded", "version", m.Version, "samples", m.Samples, "trained_at", m.TrainedAt)
	return nil
}

// MarshalModel returns the serving model as artifact bytes.
func (a *Assessor) MarshalModel() ([]byte, error) {
	return a.MarshalVersion("")
}

// MarshalVersion returns the artifact bytes of the serving model if it is
// still the given version, and ErrModelSuperseded otherwise.
func (a *Assessor) MarshalVersion(version string) ([]byte, error) {
	m, err := a.snapshot(version)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := Encode(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveFile writes the serving model to path through a temporary file in the
// same directory, so readers never see a partial artifact.
func (a *Assessor) SaveFile(path string) error {
	return a.SaveFileVersion(path, "")
}

// SaveFileVersion is SaveFile for a specific model version. It runs under
// the training lock, so a superseded model never overwrites a newer file.
func (a *Assessor) SaveFileVersion(path, version string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, err := a.snapshot(version)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".fgmodel-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, m); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync model file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close model file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move model file into place: %w", err)
	}
	return nil
}

// LoadFile loads the artifact stored at path.
func (a *Assessor) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return a.Load(f)
}
