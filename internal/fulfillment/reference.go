package fulfillment

import (
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/legalmeet/intake/internal/datetime"
	"github.com/legalmeet/intake/internal/random"
	"github.com/legalmeet/intake/pkg/protocol"
)

const suffixAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var (
	referencePattern = regexp.MustCompile(`^LEGAL-[A-Z]{3}-\d{8}-[A-Z0-9]{4}$`)
	legacyPattern    = regexp.MustCompile(`^LM-\d{4}-\d{6}$`)
)

// ReferenceID builds LEGAL-<CODE>-<YYYYMMDD>-<XXXX> for a case filed at now.
// The date is the Bogota calendar day. A nil rnd yields the suffix "AAAA".
func ReferenceID(category protocol.Category, now time.Time, rnd random.Source) string {
	suffix := make([]byte, 4)
	for i := range suffix {
		n := 0
		if rnd != nil {
			n = rnd.IntN(len(suffixAlphabet))
		}
		suffix[i] = suffixAlphabet[n]
	}
	return fmt.Sprintf("LEGAL-%s-%s-%s", category.Code(), now.In(datetime.Location).Format("20060102"), suffix)
}

// ValidReference reports whether s is a reference id in either the current
// LEGAL-XXX-YYYYMMDD-XXXX format or the legacy LM-YYYY-NNNNNN format.
func ValidReference(s string) bool {
	return referencePattern.MatchString(s) || legacyPattern.MatchString(s)
}

// SequenceGenerator issues legacy LM-YYYY-NNNNNN ids from a counter. It is
// safe for concurrent use.
type SequenceGenerator struct {
	next atomic.Int64
}

// DefaultSequenceStart is the first number issued by a zero-configured
// generator.
const DefaultSequenceStart = 1000

// NewSequenceGenerator returns a generator whose first id carries start.
// start <= 0 selects DefaultSequenceStart.
func NewSequenceGenerator(start int64) *SequenceGenerator {
	if start <= 0 {
		start = DefaultSequenceStart
	}
	g := &SequenceGenerator{}
	g.next.Store(start)
	return g
}

// Next returns the next id, stamped with the Bogota year of now.
func (g *SequenceGenerator) Next(now time.Time) string {
	n := g.next.Add(1) - 1
	return fmt.Sprintf("LM-%d-%06d", now.In(datetime.Location).Year(), n)
}
