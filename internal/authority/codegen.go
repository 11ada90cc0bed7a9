package authority

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"unicode"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	codeDigits     = 4
	codeSpace      = 10_000
	maxInitials    = 3
	candidateTries = 16
)

// CodeGenerator produces referral code candidates of the form
// PREFIX[-INI]-NNNN. A bloom filter of known codes lets it skip candidates
// that are likely taken before they reach the store. The store's unique
// constraint stays authoritative.
type CodeGenerator struct {
	intn func(n int) int

	mu    sync.Mutex
	known *bloom.BloomFilter
}

// NewCodeGenerator creates a generator whose filter is sized for capacity
// codes at the given false positive rate.
func NewCodeGenerator(capacity uint, fpr float64) *CodeGenerator {
	return &CodeGenerator{
		intn:  rand.IntN,
		known: bloom.NewWithEstimates(capacity, fpr),
	}
}

// Add marks code as taken.
func (g *CodeGenerator) Add(code string) {
	g.mu.Lock()
	g.known.AddString(code)
	g.mu.Unlock()
}

// MayExist reports whether code was possibly added before.
func (g *CodeGenerator) MayExist(code string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.known.TestString(code)
}

// Next returns a candidate code for the given prefix and customer name.
func (g *CodeGenerator) Next(prefix, customerName string) string {
	base := codeBase(prefix, customerName)

	var candidate string
	for range candidateTries {
		candidate = fmt.Sprintf("%s-%0*d", base, codeDigits, g.intn(codeSpace))
		if !g.MayExist(candidate) {
			break
		}
	}
	return candidate
}

// codeBase joins the upper-cased prefix with up to three letters of the
// customer's first name.
func codeBase(prefix, customerName string) string {
	base := strings.ToUpper(strings.Trim(prefix, "- "))
	if base == "" {
		base = "REF"
	}
	if ini := initials(customerName); ini != "" {
		base += "-" + ini
	}
	return base
}

func initials(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	n := 0
	for _, r := range fields[0] {
		if !unicode.IsLetter(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		n++
		if n == maxInitials {
			break
		}
	}
	return b.String()
}
