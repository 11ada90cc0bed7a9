package legacy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pos-referral/internal/authority"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

const csvHeader = "code,customer_id,customer_name,phone,max_uses,times_used,expires_at\n"

type memStore struct {
	mu       sync.Mutex
	codes    map[string]*authority.Code
	copies   int
	copyErr  error
	imported int
	// beforeCopy runs under the lock before each copy.
	beforeCopy func(codes map[string]*authority.Code)
}

func newMemStore(existing ...string) *memStore {
	s := &memStore{codes: make(map[string]*authority.Code)}
	for _, c := range existing {
		s.codes[c] = &authority.Code{Code: c}
	}
	return s
}

func (s *memStore) ListCodes(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.codes))
	for c := range s.codes {
		out = append(out, c)
	}
	return out, nil
}

func (s *memStore) CopyCodes(_ context.Context, codes []*authority.Code) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.copies++
	if s.beforeCopy != nil {
		s.beforeCopy(s.codes)
	}
	if s.copyErr != nil {
		return 0, s.copyErr
	}
	for _, c := range codes {
		if _, ok := s.codes[c.Code]; ok {
			return 0, authority.ErrCodeTaken
		}
	}
	for _, c := range codes {
		s.codes[c.Code] = c
	}
	return int64(len(codes)), nil
}

func (s *memStore) ImportCode(_ context.Context, c *authority.Code) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imported++
	if _, ok := s.codes[c.Code]; ok {
		return false, nil
	}
	s.codes[c.Code] = c
	return true, nil
}

func writeGz(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return p
}

func TestParse(t *testing.T) {
	input := csvHeader +
		" ref-ann-0001 ,c-1,Ann Lee,0400,3,1,2026-01-01\n" +
		"REF-BOB-0002,c-2,Bob,0401,1,1,2026-01-01T00:00:00Z\n" +
		"REF-OLD-0003,c-3,Old,0402,1,0,2024-01-01\n" +
		",c-4,Nobody,0403,1,0,2026-01-01\n" +
		"REF-BAD-0005,c-5,Bad,0404,zero,0,2026-01-01\n" +
		"REF-BAD-0006,c-6,Bad,0405,1,0,soon\n" +
		"too,few\n"

	var (
		codes []*authority.Code
		errs  []error
	)
	err := Parse(strings.NewReader(input), "shop-1", now, func(c *authority.Code, err error) error {
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		codes = append(codes, c)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, codes, 3)
	assert.Len(t, errs, 4)

	ann := codes[0]
	assert.Equal(t, "REF-ANN-0001", ann.Code)
	assert.Equal(t, "Ann Lee", ann.CustomerName)
	assert.Equal(t, "shop-1", ann.ContextID)
	assert.Equal(t, 3, ann.MaxUses)
	assert.Equal(t, 1, ann.TimesUsed)
	assert.True(t, ann.Active)
	assert.NotEmpty(t, ann.ID)

	assert.False(t, codes[1].Active, "used up")
	assert.False(t, codes[2].Active, "expired")
}

func TestParse_BadHeader(t *testing.T) {
	err := Parse(strings.NewReader("code,customer,name,phone,a,b,c\n"), "", now, func(*authority.Code, error) error {
		return nil
	})
	require.Error(t, err)
}

func TestParse_StopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	err := Parse(strings.NewReader(csvHeader+"A,c,n,p,1,0,2026-01-01\nB,c,n,p,1,0,2026-01-01\n"), "", now,
		func(*authority.Code, error) error { return stop })
	require.ErrorIs(t, err, stop)
}

func TestImporter_ImportFiles(t *testing.T) {
	dir := t.TempDir()
	first := writeGz(t, dir, "export1.csv.gz", csvHeader+
		"REF-A-0001,c-1,A,0400,1,0,2026-01-01\n"+
		"REF-B-0002,c-2,B,0401,1,0,2026-01-01\n"+
		"REF-B-0002,c-2,B,0401,1,0,2026-01-01\n"+
		"REF-X-0009,c-9,X,0409,1,0,2026-01-01\n")
	second := writeGz(t, dir, "export2.csv.gz", csvHeader+
		"REF-A-0001,c-1,A,0400,1,0,2026-01-01\n"+
		"REF-C-0003,c-3,C,0402,1,0,2026-01-01\n"+
		"REF-D-0004,c-4,D,0403,x,0,2026-01-01\n")

	store := newMemStore("REF-X-0009")
	im := NewImporter(store, Config{BatchSize: 2, Now: func() time.Time { return now }})

	stats, err := im.ImportFiles(context.Background(), first, second)
	require.NoError(t, err)
	assert.Equal(t, Stats{Read: 6, Inserted: 3, Duplicates: 3, Invalid: 1}, stats)

	for _, c := range []string{"REF-A-0001", "REF-B-0002", "REF-C-0003", "REF-X-0009"} {
		assert.Contains(t, store.codes, c)
	}
	assert.Len(t, store.codes, 4)
}

func TestImporter_CopyConflictFallsBack(t *testing.T) {
	dir := t.TempDir()
	file := writeGz(t, dir, "export.csv.gz", csvHeader+
		"REF-A-0001,c-1,A,0400,1,0,2026-01-01\n"+
		"REF-B-0002,c-2,B,0401,1,0,2026-01-01\n")

	store := newMemStore()
	im := NewImporter(store, Config{Now: func() time.Time { return now }})
	// Issued by the server after the import listed existing codes.
	store.beforeCopy = func(codes map[string]*authority.Code) {
		codes["REF-B-0002"] = &authority.Code{Code: "REF-B-0002"}
	}

	stats, err := im.ImportFiles(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, Stats{Read: 2, Inserted: 1, Duplicates: 1}, stats)
	assert.Equal(t, 1, store.copies)
	assert.Equal(t, 2, store.imported)
}

func TestImporter_Errors(t *testing.T) {
	_, err := NewImporter(newMemStore(), Config{}).ImportFiles(context.Background(), "/does/not/exist.gz")
	require.Error(t, err)

	dir := t.TempDir()
	file := writeGz(t, dir, "export.csv.gz", csvHeader+"REF-A-0001,c-1,A,0400,1,0,2026-01-01\n")
	store := newMemStore()
	store.copyErr = errors.New("db down")

	_, err = NewImporter(store, Config{}).ImportFiles(context.Background(), file)
	require.Error(t, err)
}
