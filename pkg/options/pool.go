// Package options implements the ordered option pool described in
// spec.md §3 ("Option pool") plus the bootstrap-time env/file/argv
// plumbing described in SPEC_FULL.md §3.2, grounded on
// original_source/options.h and pkg/atlas/config.go.
package options

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kraused/treecast/pkg/buffer"
)

// Pool is an ordered set of key/value pairs. Inserting a duplicate key
// overwrites the previous value in place, matching
// original_source/options.h's documented kvpair-list semantics.
type Pool struct {
	order []string
	vals  map[string]string
}

// NewPool returns an empty Pool.
func NewPool() *Pool {
	return &Pool{vals: make(map[string]string)}
}

// Set inserts or overwrites key's value.
func (p *Pool) Set(key, val string) {
	if _, ok := p.vals[key]; !ok {
		p.order = append(p.order, key)
	}
	p.vals[key] = val
}

// Find returns the value for key and whether it was present, the Go
// analogue of optpool_find_by_key (which returns NULL on miss).
func (p *Pool) Find(key string) (string, bool) {
	v, ok := p.vals[key]
	return v, ok
}

// FindInt returns key's value parsed as an int, the analogue of
// optpool_find_by_key_as_int.
func (p *Pool) FindInt(key string) (int, error) {
	v, ok := p.vals[key]
	if !ok {
		return 0, fmt.Errorf("option %q not found", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("option %q: %w", key, err)
	}
	return n, nil
}

// Keys returns the keys in insertion order.
func (p *Pool) Keys() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// ParseFile fills the pool from a config file, one "Key=Value" pair per
// non-empty, non-comment line, per optpool_parse_file.
func (p *Pool) ParseFile(r io.Reader) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("config file: malformed line %q", line)
		}
		p.Set(strings.TrimSpace(k), strings.TrimSpace(v))
	}
	return sc.Err()
}

// ParseArgv fills the pool from "-o Key=Value" pairs in argv, stopping at
// the first "--" entry, per optpool_parse_cmdline_args. Previously
// inserted options (e.g. from a config file) are overwritten on key
// collision.
func (p *Pool) ParseArgv(argv []string) error {
	for i := 0; i < len(argv); i++ {
		a := argv[i]
		if a == "--" {
			break
		}
		if a != "-o" && a != "--option" {
			continue
		}
		i++
		if i >= len(argv) {
			return fmt.Errorf("-o requires a Key=Value argument")
		}
		k, v, ok := strings.Cut(argv[i], "=")
		if !ok {
			return fmt.Errorf("-o argument %q is not Key=Value", argv[i])
		}
		p.Set(k, v)
	}
	return nil
}

// Pack serializes the pool onto b as a length-prefixed sequence of
// length-prefixed "key=value" strings, per original_source/options.h's
// optpool_buffer_pack and spec.md §3's wire encoding note.
func (p *Pool) Pack(b *buffer.Buffer) {
	b.PackU32(uint32(len(p.order)))
	for _, k := range p.order {
		b.PackString(k + "=" + p.vals[k])
	}
}

// Unpack is the inverse of Pack.
func Unpack(b *buffer.Buffer) (*Pool, error) {
	n, err := b.UnpackU32()
	if err != nil {
		return nil, err
	}
	p := NewPool()
	for i := uint32(0); i < n; i++ {
		s, err := b.UnpackString()
		if err != nil {
			return nil, err
		}
		k, v, ok := strings.Cut(s, "=")
		if !ok {
			return nil, fmt.Errorf("option pool: malformed entry %q", s)
		}
		p.Set(k, v)
	}
	return p, nil
}

// PackBytes is a convenience wrapper returning the packed form as a byte
// slice, used when embedding the pool inside a ResponseJoin message.
func (p *Pool) PackBytes() []byte {
	b := buffer.New(256)
	p.Pack(b)
	return append([]byte(nil), b.Bytes()...)
}

// UnpackBytes is the inverse of PackBytes.
func UnpackBytes(data []byte) (*Pool, error) {
	b := buffer.New(len(data))
	b.PackBytes(data)
	return Unpack(b)
}
