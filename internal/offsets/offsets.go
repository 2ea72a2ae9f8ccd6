package offsets

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Field names one tracked value in the target's address space
type Field string

const (
	FieldDeck1Bar     Field = "deck1_bar"
	FieldDeck1Beat    Field = "deck1_beat"
	FieldDeck2Bar     Field = "deck2_bar"
	FieldDeck2Beat    Field = "deck2_beat"
	FieldMasterBPM    Field = "master_bpm"
	FieldMasterDeck   Field = "masterdeck_index"
	FieldDeck1TrackID Field = "deck1_track_id"
	FieldDeck2TrackID Field = "deck2_track_id"
	FieldAPIBearer    Field = "api_bearer"
	FieldDeck1Time    Field = "deck1_time"
	FieldDeck2Time    Field = "deck2_time"
)

// FieldOrder is the order in which chains appear after the version line of
// a block in the offsets file.
var FieldOrder = []Field{
	FieldDeck1Bar,
	FieldDeck1Beat,
	FieldDeck2Bar,
	FieldDeck2Beat,
	FieldMasterBPM,
	FieldMasterDeck,
	FieldDeck1TrackID,
	FieldDeck2TrackID,
	FieldAPIBearer,
	FieldDeck1Time,
	FieldDeck2Time,
}

// ErrUnknownVersion is returned when no table exists for the requested version
var ErrUnknownVersion = errors.New("unsupported version")

// PointerChain locates a value: one dereference per entry of Offsets,
// then Final is added to the last address.
type PointerChain struct {
	Offsets []uintptr
	Final   uintptr
}

// ParsePointerChain parses a space-separated list of hex numbers. The last
// number is the final offset.
func ParsePointerChain(line string) (PointerChain, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return PointerChain{}, fmt.Errorf("empty pointer chain")
	}

	values := make([]uintptr, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(f), "0x"), 16, 64)
		if err != nil {
			return PointerChain{}, fmt.Errorf("invalid hex offset %q: %w", f, err)
		}
		values[i] = uintptr(v)
	}

	return PointerChain{
		Offsets: values[:len(values)-1],
		Final:   values[len(values)-1],
	}, nil
}

// String renders the chain back into the file notation
func (c PointerChain) String() string {
	parts := make([]string, 0, len(c.Offsets)+1)
	for _, o := range c.Offsets {
		parts = append(parts, strconv.FormatUint(uint64(o), 16))
	}
	parts = append(parts, strconv.FormatUint(uint64(c.Final), 16))
	return strings.Join(parts, " ")
}

// Table holds the pointer chains for one application version
type Table struct {
	Version string
	Chains  map[Field]PointerChain
}

// Chain returns the chain for a field
func (t *Table) Chain(f Field) (PointerChain, error) {
	c, ok := t.Chains[f]
	if !ok {
		return PointerChain{}, fmt.Errorf("version %s has no chain for %s", t.Version, f)
	}
	return c, nil
}

// Tables maps version tags to their tables
type Tables map[string]*Table

// Parse reads an offsets file. Blocks are separated by blank lines and lines
// starting with '#' are ignored. Each block is a version line followed by
// one chain per entry of FieldOrder.
func Parse(r io.Reader) (Tables, error) {
	tables := make(Tables)
	var block []string

	flush := func() error {
		if len(block) == 0 {
			return nil
		}
		t, err := parseBlock(block)
		if err != nil {
			return err
		}
		tables[t.Version] = t
		block = block[:0]
		return nil
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		block = append(block, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read offsets: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return tables, nil
}

func parseBlock(lines []string) (*Table, error) {
	version := lines[0]
	if len(lines)-1 < len(FieldOrder) {
		return nil, fmt.Errorf("version %s: expected %d pointer lines, got %d",
			version, len(FieldOrder), len(lines)-1)
	}

	t := &Table{
		Version: version,
		Chains:  make(map[Field]PointerChain, len(FieldOrder)),
	}
	for i, f := range FieldOrder {
		chain, err := ParsePointerChain(lines[i+1])
		if err != nil {
			return nil, fmt.Errorf("version %s, %s: %w", version, f, err)
		}
		t.Chains[f] = chain
	}
	return t, nil
}

// LoadFile parses the offsets file at path
func LoadFile(path string) (Tables, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open offsets file: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Versions returns the known version tags, newest first
func (ts Tables) Versions() []string {
	versions := make([]string, 0, len(ts))
	for v := range ts {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool {
		return compareVersions(versions[i], versions[j]) > 0
	})
	return versions
}

// Select returns the table for version, or the newest table when version is empty
func (ts Tables) Select(version string) (*Table, error) {
	if version == "" {
		versions := ts.Versions()
		if len(versions) == 0 {
			return nil, fmt.Errorf("offsets file contains no versions")
		}
		version = versions[0]
	}

	t, ok := ts[version]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}
	return t, nil
}

// compareVersions compares dotted version tags numerically where possible
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		ai, aerr := strconv.Atoi(as[i])
		bi, berr := strconv.Atoi(bs[i])
		if aerr == nil && berr == nil {
			if ai != bi {
				if ai < bi {
					return -1
				}
				return 1
			}
			continue
		}
		if c := strings.Compare(as[i], bs[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	}
	return 0
}
