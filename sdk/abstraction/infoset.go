package abstraction

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedKey is returned for infoset keys that cannot be parsed.
var ErrMalformedKey = errors.New("malformed infoset key")

// Infoset key encodings.
const (
	// KeyLegacy joins verbose action names with dots and marks street changes
	// with DEAL. It carries no version tag.
	KeyLegacy = 1
	// KeyCompact concatenates action tokens per street, joins streets with '/'
	// and prefixes the history with "v2|".
	KeyCompact = 2
)

const (
	compactPrefix = "v2|"
	legacyDeal    = "DEAL"
)

// History is the abstract action sequence of a hand, one segment per street
// reached. A decision on street s has exactly s+1 segments.
type History [][]AbstractAction

// NewHistory returns the empty preflop history.
func NewHistory() History { return History{nil} }

// Street is the street the history currently sits on.
func (h History) Street() Street {
	if len(h) == 0 {
		return Preflop
	}
	return Street(len(h) - 1)
}

// Current returns the actions taken on the current street.
func (h History) Current() []AbstractAction {
	if len(h) == 0 {
		return nil
	}
	return h[len(h)-1]
}

// Append returns a copy of h with act added to the current street. The
// receiver is never modified, so histories can be shared between branches.
func (h History) Append(act AbstractAction) History {
	if len(h) == 0 {
		h = NewHistory()
	}
	out := make(History, len(h))
	copy(out, h)
	last := h[len(h)-1]
	seg := make([]AbstractAction, len(last)+1)
	copy(seg, last)
	seg[len(last)] = act
	out[len(out)-1] = seg
	return out
}

// NextStreet returns a copy of h with an empty segment for the next street.
func (h History) NextStreet() History {
	out := make(History, len(h), len(h)+1)
	copy(out, h)
	return append(out, nil)
}

// Equal compares histories segment by segment; nil and empty segments match.
func (h History) Equal(o History) bool {
	if len(h) != len(o) {
		return false
	}
	for i := range h {
		if len(h[i]) != len(o[i]) {
			return false
		}
		for j := range h[i] {
			if h[i][j] != o[i][j] {
				return false
			}
		}
	}
	return true
}

// Compact renders the tokens of every street joined with '/'.
func (h History) Compact() string {
	var b strings.Builder
	for i, seg := range h {
		if i > 0 {
			b.WriteByte('/')
		}
		for _, a := range seg {
			b.WriteString(a.Token())
		}
	}
	return b.String()
}

// Legacy renders the verbose dot-joined form.
func (h History) Legacy() string {
	var parts []string
	for i, seg := range h {
		if i > 0 {
			parts = append(parts, legacyDeal)
		}
		for _, a := range seg {
			parts = append(parts, a.Name())
		}
	}
	return strings.Join(parts, ".")
}

// InfosetKey is the logical triple identifying a decision.
type InfosetKey struct {
	Street  Street
	Bucket  int
	History History
}

// Validate checks the history has one segment per street reached.
func (k InfosetKey) Validate() error {
	if !k.Street.Valid() {
		return fmt.Errorf("%w: invalid street %d", ErrMalformedKey, k.Street)
	}
	if k.Bucket < 0 {
		return fmt.Errorf("%w: negative bucket %d", ErrMalformedKey, k.Bucket)
	}
	if len(k.History) != int(k.Street)+1 {
		return fmt.Errorf("%w: %s history has %d street segments", ErrMalformedKey, k.Street, len(k.History))
	}
	return nil
}

// String encodes the key in the compact versioned form.
func (k InfosetKey) String() string {
	return k.Encode(KeyCompact)
}

// Encode renders the key as <STREET>:<bucket>:<history> in the requested form.
func (k InfosetKey) Encode(version int) string {
	var hist string
	switch version {
	case KeyLegacy:
		hist = k.History.Legacy()
	default:
		hist = compactPrefix + k.History.Compact()
	}
	return k.Street.String() + ":" + strconv.Itoa(k.Bucket) + ":" + hist
}

// ParseKey decodes either encoding and reports which one was used.
func ParseKey(s string) (InfosetKey, int, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return InfosetKey{}, 0, fmt.Errorf("%w: %q needs three ':' separated fields", ErrMalformedKey, s)
	}
	street, err := ParseStreet(parts[0])
	if err != nil {
		return InfosetKey{}, 0, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	bucket, err := strconv.Atoi(parts[1])
	if err != nil || bucket < 0 {
		return InfosetKey{}, 0, fmt.Errorf("%w: bad bucket %q", ErrMalformedKey, parts[1])
	}

	var (
		hist    History
		version int
	)
	if rest, ok := strings.CutPrefix(parts[2], compactPrefix); ok {
		version = KeyCompact
		hist, err = parseCompactHistory(rest)
	} else {
		version = KeyLegacy
		hist, err = parseLegacyHistory(parts[2])
	}
	if err != nil {
		return InfosetKey{}, 0, err
	}

	key := InfosetKey{Street: street, Bucket: bucket, History: hist}
	if err := key.Validate(); err != nil {
		return InfosetKey{}, 0, err
	}
	return key, version, nil
}

// ParseHistory parses the compact form produced by History.Compact, for
// example "XB75X/".
func ParseHistory(s string) (History, error) {
	hist, err := parseCompactHistory(s)
	if err != nil {
		return nil, fmt.Errorf("history %q: %w", s, err)
	}
	return hist, nil
}

func parseCompactHistory(s string) (History, error) {
	segments := strings.Split(s, "/")
	hist := make(History, len(segments))
	for i, seg := range segments {
		for j := 0; j < len(seg); {
			end := j + 1
			if seg[j] == 'B' {
				for end < len(seg) && seg[end] >= '0' && seg[end] <= '9' {
					end++
				}
			}
			act, err := parseToken(seg[j:end])
			if err != nil {
				return nil, err
			}
			hist[i] = append(hist[i], act)
			j = end
		}
	}
	return hist, nil
}

func parseLegacyHistory(s string) (History, error) {
	hist := NewHistory()
	if s == "" {
		return hist, nil
	}
	for _, name := range strings.Split(s, ".") {
		if name == legacyDeal {
			hist = append(hist, nil)
			continue
		}
		act, err := parseName(name)
		if err != nil {
			return nil, err
		}
		hist[len(hist)-1] = append(hist[len(hist)-1], act)
	}
	return hist, nil
}
