// Package index implements the in-memory, parent-linked tree of path
// nodes: three parallel maps keyed by a content-derived digest (node
// storage, parent link, child set). The Index exclusively owns every
// node; everything else manipulates nodes only through handles.
package index

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/sadopc/duidx/internal/duerrors"
	"github.com/sadopc/duidx/internal/pathkey"
	"github.com/sadopc/duidx/internal/treefs"
	"github.com/sadopc/duidx/internal/treenode"
)

// Handle is the 64-bit digest used as the primary key of a node.
type Handle = uint64

// Sentinel is the reserved parent handle meaning "no indexed parent".
const Sentinel = pathkey.Sentinel

// Index is the container of all nodes and their parent/child relations.
// It is not safe for concurrent mutation: the engine is single-threaded
// cooperative by design (see spec §5).
type Index struct {
	fsys     treefs.FS
	log      *slog.Logger
	nodes    map[Handle]treenode.Node
	parent   map[Handle]Handle
	children map[Handle]map[Handle]struct{}
}

// Option configures an Index at construction time.
type Option func(*Index)

// WithLogger overrides the default logger (slog.Default()), matching the
// injectable-logger pattern used elsewhere in this codebase's ambient
// stack.
func WithLogger(log *slog.Logger) Option {
	return func(idx *Index) { idx.log = log }
}

// New creates an empty Index backed by fsys.
func New(fsys treefs.FS, opts ...Option) *Index {
	idx := &Index{
		fsys:     fsys,
		log:      slog.Default(),
		nodes:    make(map[Handle]treenode.Node),
		parent:   make(map[Handle]Handle),
		children: make(map[Handle]map[Handle]struct{}),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// FS returns the filesystem the index was built against.
func (idx *Index) FS() treefs.FS { return idx.fsys }

// Locate canonicalizes path, creating a node for it if one is not
// already indexed, and returns its handle. Idempotent: locating a path
// that canonicalizes to an already-indexed path returns the same handle.
func (idx *Index) Locate(path string) (Handle, error) {
	abs, err := idx.fsys.Canonicalize(path)
	if err != nil {
		return 0, &duerrors.NotExistingPath{Path: path}
	}
	if _, err := idx.fsys.Stat(abs); err != nil {
		return 0, &duerrors.NotExistingPath{Path: abs}
	}

	h := pathkey.Of(abs)
	if _, ok := idx.nodes[h]; ok {
		return h, nil
	}
	return idx.create(abs, h)
}

// Create builds a new node for path and wires it into the tree,
// materializing the entire ancestry on demand. Calling Create on an
// already-indexed path fails with NotExistingNode (retained name;
// semantically "node already exists").
func (idx *Index) Create(path string) (Handle, error) {
	abs, err := idx.fsys.Canonicalize(path)
	if err != nil {
		return 0, &duerrors.NotExistingPath{Path: path}
	}
	h := pathkey.Of(abs)
	if _, ok := idx.nodes[h]; ok {
		return 0, &duerrors.NotExistingNode{Handle: h, Reason: "node already exists"}
	}
	return idx.create(abs, h)
}

func (idx *Index) create(abs string, h Handle) (Handle, error) {
	if existing, ok := idx.nodes[h]; ok {
		pathkey.CheckCollision(h, existing.Path(), abs)
		return h, nil
	}

	node, err := treenode.New(idx.fsys, abs)
	if err != nil {
		return 0, &duerrors.NotExistingPath{Path: abs}
	}

	var parentHandle Handle
	if idx.fsys.IsRoot(abs) {
		parentHandle = Sentinel
	} else {
		parentHandle, err = idx.Locate(idx.fsys.Parent(abs))
		if err != nil {
			return 0, errors.Wrapf(err, "materializing ancestry of %s", abs)
		}
	}

	idx.nodes[h] = node
	idx.parent[h] = parentHandle
	if idx.children[parentHandle] == nil {
		idx.children[parentHandle] = make(map[Handle]struct{})
	}
	idx.children[parentHandle][h] = struct{}{}
	idx.markDirty(parentHandle)

	idx.log.Debug("index: created node", "path", abs, "handle", h, "dir", node.IsDir())
	return h, nil
}

// Delete removes handle and every descendant, detaches it from its
// parent's child set, and propagates dirtiness upward from the former
// parent. Deleting a handle that is not indexed is a no-op, so cascading
// deletes stay idempotent under re-entry.
func (idx *Index) Delete(handle Handle) {
	if _, ok := idx.nodes[handle]; !ok {
		return
	}

	formerParent := idx.parent[handle]

	stack := []Handle{handle}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for child := range idx.children[h] {
			stack = append(stack, child)
		}
		delete(idx.children, h)
		delete(idx.nodes, h)
		delete(idx.parent, h)
	}

	if siblings, ok := idx.children[formerParent]; ok {
		delete(siblings, handle)
	}
	idx.markDirty(formerParent)
	idx.log.Debug("index: deleted node", "handle", handle)
}

// ParentOf returns handle's parent, or Sentinel if handle is unindexed
// or is a root.
func (idx *Index) ParentOf(handle Handle) Handle {
	return idx.parent[handle]
}

// ChildrenOf returns the set of handle's direct children. Returns nil
// for an unindexed or childless handle.
func (idx *Index) ChildrenOf(handle Handle) []Handle {
	set := idx.children[handle]
	if len(set) == 0 {
		return nil
	}
	out := make([]Handle, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	return out
}

// Get returns the live node for handle for internal, mutating use by the
// scanner/updater/cache packages within this module.
func (idx *Index) Get(handle Handle) (treenode.Node, error) {
	n, ok := idx.nodes[handle]
	if !ok {
		return nil, &duerrors.NotExistingNode{Handle: handle}
	}
	return n, nil
}

// GetInfo returns a detached, read-only snapshot of handle's attributes.
func (idx *Index) GetInfo(handle Handle) (treenode.Snapshot, error) {
	n, err := idx.Get(handle)
	if err != nil {
		return treenode.Snapshot{}, err
	}
	return treenode.SnapshotOf(n), nil
}

// Has reports whether handle is currently indexed.
func (idx *Index) Has(handle Handle) bool {
	_, ok := idx.nodes[handle]
	return ok
}

// MarkDirty sets dirty on handle, if it names a directory, and
// propagates it up to the root. This is the entry point the scanner and
// updater use to satisfy the dirty-propagation protocol: create, delete,
// update (when it changes a child's aggregates) and explicit
// modification all rise the dirty flag through the parent chain.
func (idx *Index) MarkDirty(handle Handle) {
	idx.markDirty(handle)
}

func (idx *Index) markDirty(handle Handle) {
	h := handle
	for {
		n, ok := idx.nodes[h]
		if !ok {
			break
		}
		if d, ok := n.(*treenode.DirNode); ok {
			d.MarkDirty()
		}
		parent, ok := idx.parent[h]
		if !ok || h == Sentinel {
			break
		}
		h = parent
	}
}

// EnsureNode returns the handle for abs, creating the node (but not its
// ancestry wiring beyond what Create already performs) if absent. Used
// by the scanner when reconciling a directory's children.
func (idx *Index) EnsureNode(abs string) (Handle, error) {
	h := pathkey.Of(abs)
	if _, ok := idx.nodes[h]; ok {
		return h, nil
	}
	return idx.create(abs, h)
}

// Walk returns every handle in the index, in unspecified order.
func (idx *Index) Walk() []Handle {
	out := make([]Handle, 0, len(idx.nodes))
	for h := range idx.nodes {
		out = append(out, h)
	}
	return out
}

// Len reports how many nodes are currently indexed.
func (idx *Index) Len() int { return len(idx.nodes) }
