package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hyperjump/guidechat/internal/models"
)

const snapshotMagic = "GCV1"

// MemoryStore keeps every guide's rows in memory and searches by brute force.
// Each guide's slice is replaced wholesale, so readers never observe a partial set.
type MemoryStore struct {
	dimensions int
	guides     map[string][]*models.EmbeddingRecord
	mu         sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store with the given dimension.
func NewMemoryStore(dimensions int) (*MemoryStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryStore{
		dimensions: dimensions,
		guides:     make(map[string][]*models.EmbeddingRecord),
	}, nil
}

// ReplaceGuide swaps the guide's rows for copies of records.
func (m *MemoryStore) ReplaceGuide(ctx context.Context, guideID string, records []*models.EmbeddingRecord) (int, error) {
	if err := validateRecords(guideID, records, m.dimensions); err != nil {
		return 0, err
	}
	now := time.Now()
	rows := make([]*models.EmbeddingRecord, len(records))
	for i, r := range records {
		cp := *r
		cp.Embedding = append([]float32(nil), r.Embedding...)
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		rows[i] = &cp
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(rows) == 0 {
		delete(m.guides, guideID)
	} else {
		m.guides[guideID] = rows
	}
	return len(rows), nil
}

// Search ranks the guide's rows by cosine similarity.
func (m *MemoryStore) Search(ctx context.Context, guideID string, query []float32, topK int) ([]*Result, error) {
	if err := validateQuery(query, m.dimensions); err != nil {
		return nil, err
	}
	m.mu.RLock()
	rows := m.guides[guideID]
	m.mu.RUnlock()

	results := make([]*Result, len(rows))
	for i, r := range rows {
		results[i] = &Result{BlockID: r.BlockID, Content: r.Content, Score: CosineSimilarity(query, r.Embedding)}
	}
	return rank(results, topK), nil
}

// DeleteGuide drops every row of the guide.
func (m *MemoryStore) DeleteGuide(ctx context.Context, guideID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.guides[guideID])
	delete(m.guides, guideID)
	return int64(n), nil
}

// Count returns the number of rows for guideID, or in total when guideID is empty.
func (m *MemoryStore) Count(ctx context.Context, guideID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if guideID != "" {
		return len(m.guides[guideID]), nil
	}
	total := 0
	for _, rows := range m.guides {
		total += len(rows)
	}
	return total, nil
}

// Dimensions returns the vector dimension.
func (m *MemoryStore) Dimensions() int {
	return m.dimensions
}

// Close is a no-op for MemoryStore.
func (m *MemoryStore) Close() error {
	return nil
}

// Save writes a snapshot to path. Format: magic, dimension (4), row count (4), then per row
// record id, guide id, block id, content (each length-prefixed) and the vector (dimension*4 bytes).
func (m *MemoryStore) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	w := bufio.NewWriter(f)

	guideIDs := make([]string, 0, len(m.guides))
	total := 0
	for id, rows := range m.guides {
		guideIDs = append(guideIDs, id)
		total += len(rows)
	}
	sort.Strings(guideIDs)

	err = func() error {
		if _, err := w.WriteString(snapshotMagic); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(m.dimensions)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(total)); err != nil {
			return err
		}
		for _, id := range guideIDs {
			for _, r := range m.guides[id] {
				for _, s := range []string{r.ID, r.GuideID, r.BlockID, r.Content} {
					if err := writeString(w, s); err != nil {
						return err
					}
				}
				if _, err := w.Write(float32SliceToBytes(r.Embedding)); err != nil {
					return err
				}
			}
		}
		return w.Flush()
	}()
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load replaces the store's contents with the snapshot at path. Dimensions must match.
// A missing file leaves the store unchanged.
func (m *MemoryStore) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != snapshotMagic {
		return fmt.Errorf("not a vector snapshot: %s", path)
	}
	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != m.dimensions {
		return fmt.Errorf("dimension mismatch: snapshot has %d, store expects %d", dim, m.dimensions)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}

	guides := make(map[string][]*models.EmbeddingRecord)
	buf := make([]byte, m.dimensions*4)
	for i := uint32(0); i < n; i++ {
		var fields [4]string
		for j := range fields {
			s, err := readString(r)
			if err != nil {
				return fmt.Errorf("read row %d: %w", i, err)
			}
			fields[j] = s
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("read vector %d: %w", i, err)
		}
		rec := &models.EmbeddingRecord{
			ID:        fields[0],
			GuideID:   fields[1],
			BlockID:   fields[2],
			Content:   fields[3],
			Embedding: bytesToFloat32Slice(buf),
		}
		guides[rec.GuideID] = append(guides[rec.GuideID], rec)
	}

	m.mu.Lock()
	m.guides = guides
	m.mu.Unlock()
	return nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
