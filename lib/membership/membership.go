package membership

import (
	"bufio"
	"fmt"
	"github.com/lni/dragonboat/v4/logger"
	"io"
	"net"
	"os"
	"slices"
	"strings"
	"sync"
)

var Logger = logger.GetLogger("membership")

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IProvider is the source of the current cloud membership. The member list is
// ordered and identical on every node of the same generation.
type IProvider interface {
	// Members returns the ordered list of live members (host:port)
	Members() []string
	// Generation returns a monotonically increasing id, bumped on every change
	Generation() uint64
}

// --------------------------------------------------------------------------
// Static Provider
// --------------------------------------------------------------------------

// Static is a provider with a fixed member list that can be replaced by hand
type Static struct {
	mu         sync.RWMutex
	members    []string
	generation uint64
}

// NewStatic creates a provider for members at generation 1
func NewStatic(members []string) *Static {
	return &Static{
		members:    slices.Clone(members),
		generation: 1,
	}
}

// Update replaces the member list and advances the generation. Updating with an
// identical list is a no-op.
func (s *Static) Update(members []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Equal(s.members, members) {
		return
	}
	s.members = slices.Clone(members)
	s.generation++
	Logger.Infof("Membership generation %d: %v", s.generation, s.members)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see IProvider)
// --------------------------------------------------------------------------

func (s *Static) Members() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members
}

func (s *Static) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// --------------------------------------------------------------------------
// Flatfile
// --------------------------------------------------------------------------

// ParseFlatfile reads one host:port per line. Empty lines and lines starting with
// # are ignored, as is everything after a # on a line.
func ParseFlatfile(r io.Reader) ([]string, error) {
	var members []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(line); err != nil {
			return nil, fmt.Errorf("line %d: invalid member %q: %w", lineNo, line, err)
		}
		if seen[line] {
			return nil, fmt.Errorf("line %d: duplicate member %q", lineNo, line)
		}
		seen[line] = true
		members = append(members, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return members, nil
}

// LoadFlatfile parses the member list stored at path
func LoadFlatfile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	members, err := ParseFlatfile(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return members, nil
}
