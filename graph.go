package xtee

import (
	"os"
	"sort"
	"strconv"
	"strings"
)

type fdSet map[int]struct{}

// graph holds the open byte endpoints and the directed links between them.
// fwd maps a source descriptor to the set of destinations receiving its
// bytes; rev is the dual index used to decide when a destination becomes
// unsourced. Endpoints with no remaining edge in either direction are
// closed unless reserved.
type graph struct {
	fwd map[int]fdSet
	rev map[int]fdSet

	files    map[int]*os.File
	reserved map[int]bool
}

func newGraph() *graph {
	return &graph{
		fwd:      map[int]fdSet{},
		rev:      map[int]fdSet{},
		files:    map[int]*os.File{},
		reserved: map[int]bool{},
	}
}

// register adds f to the endpoint registry and returns its descriptor.
func (g *graph) register(f *os.File) int {
	fd := int(f.Fd())
	g.files[fd] = f
	return fd
}

// reserve registers f as one of the harness-owned endpoints, which the
// graph must never close.
func (g *graph) reserve(f *os.File) int {
	fd := g.register(f)
	g.reserved[fd] = true
	return fd
}

func (g *graph) file(fd int) *os.File {
	return g.files[fd]
}

// link inserts the edge (src, dest) into both indices. Idempotent on
// duplicate edges; negative descriptors and self-loops are rejected.
func (g *graph) link(src, dest int) bool {
	if src < 0 || dest < 0 || src == dest {
		return false
	}

	fwdSet, ok := g.fwd[src]
	if !ok {
		fwdSet = fdSet{}
		g.fwd[src] = fwdSet
	}

	fwdSet[dest] = struct{}{}

	revSet, ok := g.rev[dest]
	if !ok {
		revSet = fdSet{}
		g.rev[dest] = revSet
	}

	revSet[src] = struct{}{}
	return true
}

// unlink removes the edge (src, dest) from both indices.
func (g *graph) unlink(src, dest int) {
	if set, ok := g.fwd[src]; ok {
		delete(set, dest)
	}

	if set, ok := g.rev[dest]; ok {
		delete(set, src)
	}
}

func (g *graph) linked(src, dest int) bool {
	set, ok := g.fwd[src]
	if !ok {
		return false
	}

	_, ok = set[dest]
	return ok
}

// destinations returns the forward set of src in ascending order.
func (g *graph) destinations(src int) []int {
	return sortedFDs(g.fwd[src])
}

func (g *graph) hasDests(src int) bool {
	return len(g.fwd[src]) > 0
}

func (g *graph) hasSources(dest int) bool {
	return len(g.rev[dest]) > 0
}

// sourceFDs returns every descriptor currently acting as a source.
func (g *graph) sourceFDs() []int {
	return sortedFDs(keysOf(g.fwd))
}

// closeFD syncs and closes the endpoint behind fd and drops it from the
// registry. Reserved endpoints are left untouched.
func (g *graph) closeFD(fd int) {
	if g.reserved[fd] {
		return
	}

	f := g.files[fd]
	if f == nil {
		return
	}

	_ = f.Sync()
	_ = f.Close()
	delete(g.files, fd)
}

// cascade walks lookup[by], removing the dual entries from reverse. Every
// peer whose reverse set drains empty is closed (unless reserved) and
// erased. Returns the closed peers for the trace log.
func (g *graph) cascade(by int, lookup, reverse map[int]fdSet) string {
	set, ok := lookup[by]
	if !ok {
		return ""
	}

	var closed []string
	for _, peer := range sortedFDs(set) {
		revSet, ok := reverse[peer]
		if !ok {
			continue
		}

		delete(revSet, by)
		if len(revSet) == 0 {
			delete(reverse, peer)
			if !g.reserved[peer] {
				g.closeFD(peer)
				closed = append(closed, strconv.Itoa(peer))
			}
		}
	}

	delete(lookup, by)
	return strings.Join(closed, ",")
}

// closeSource removes every edge (src, *), closes destinations left
// unsourced, then closes src itself unless reserved.
func (g *graph) closeSource(src int) string {
	batch := strconv.Itoa(src) + "->[" + g.cascade(src, g.fwd, g.rev) + "]"
	g.closeFD(src)
	return batch
}

// closeDest is the dual of closeSource, walking rev[dest] and closing
// dangling sources.
func (g *graph) closeDest(dest int) string {
	batch := strconv.Itoa(dest) + "<-[" + g.cascade(dest, g.rev, g.fwd) + "]"
	g.closeFD(dest)
	return batch
}

// summary renders the forward index as "src->[d1,d2];…" for the trace log.
func (g *graph) summary() string {
	var b strings.Builder
	for _, src := range g.sourceFDs() {
		dests := make([]string, 0, len(g.fwd[src]))
		for _, d := range g.destinations(src) {
			dests = append(dests, strconv.Itoa(d))
		}

		b.WriteString(strconv.Itoa(src))
		b.WriteString("->[")
		b.WriteString(strings.Join(dests, ","))
		b.WriteString("];")
	}

	return b.String()
}

// rows renders the forward index as table rows for the link dump.
func (g *graph) rows() [][]string {
	var rows [][]string
	for _, src := range g.sourceFDs() {
		dests := make([]string, 0, len(g.fwd[src]))
		for _, d := range g.destinations(src) {
			dests = append(dests, strconv.Itoa(d))
		}

		rows = append(rows, []string{strconv.Itoa(src), strings.Join(dests, ",")})
	}

	return rows
}

func keysOf(m map[int]fdSet) fdSet {
	keys := make(fdSet, len(m))
	for k := range m {
		keys[k] = struct{}{}
	}

	return keys
}

func sortedFDs(set fdSet) []int {
	fds := make([]int, 0, len(set))
	for fd := range set {
		fds = append(fds, fd)
	}

	sort.Ints(fds)
	return fds
}
