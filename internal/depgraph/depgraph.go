// Package depgraph implements the directed graph of foreign-package build
// dependencies used to compute a deps-first build order. It is a close
// transliteration of the reference resolver graph: nodes are kept in a
// parent/child map structure, cycle detection walks the parent chain, and
// draining childless nodes propagates each child's transitive foreign
// dependency set (plus its own name) into every parent before severing
// the edge.
package depgraph

import (
	"sort"

	"golang.org/x/exp/maps"

	"github.com/kiviktnm/aurforge/internal/aerr"
)

// ForeignPackage accumulates the names of every foreign package that ends
// up (directly or transitively) required to build it, discovered as the
// graph is drained from the outside in.
type ForeignPackage struct {
	Name string

	recursiveDeps map[string]struct{}
}

func newForeignPackage(name string) *ForeignPackage {
	return &ForeignPackage{Name: name, recursiveDeps: make(map[string]struct{})}
}

// AddForeignDependencyPackages merges additional dependency names in.
func (p *ForeignPackage) AddForeignDependencyPackages(names map[string]struct{}) {
	for name := range names {
		p.recursiveDeps[name] = struct{}{}
	}
}

// AllRecursiveForeignDepPkgs returns a copy of the accumulated transitive
// foreign dependency name set.
func (p *ForeignPackage) AllRecursiveForeignDepPkgs() map[string]struct{} {
	out := make(map[string]struct{}, len(p.recursiveDeps))
	for name := range p.recursiveDeps {
		out[name] = struct{}{}
	}

	return out
}

type depNode struct {
	parents  map[string]*depNode
	children map[string]*depNode
	pkg      *ForeignPackage
}

func newDepNode(pkg *ForeignPackage) *depNode {
	return &depNode{
		parents:  make(map[string]*depNode),
		children: make(map[string]*depNode),
		pkg:      pkg,
	}
}

// isAncestor reports whether pkgname appears anywhere in n's parent chain.
func (n *depNode) isAncestor(pkgname string) bool {
	for name, parent := range n.parents {
		if name == pkgname || parent.isAncestor(pkgname) {
			return true
		}
	}

	return false
}

// DepGraph is a directed graph between foreign packages: an edge from
// parent to child means parent requires child to be built first.
type DepGraph struct {
	nodes     map[string]*depNode
	childless map[string]struct{}
}

// New returns an empty DepGraph.
func New() *DepGraph {
	return &DepGraph{
		nodes:     make(map[string]*depNode),
		childless: make(map[string]struct{}),
	}
}

func (g *DepGraph) nodeFor(name string) *depNode {
	if n, ok := g.nodes[name]; ok {
		return n
	}

	n := newDepNode(newForeignPackage(name))
	g.nodes[name] = n

	return n
}

// AddRequirement registers that parent requires child, creating the child
// node if it doesn't already exist. A nil parent registers child as a
// root with no parent. Returns a *aerr.Error of KindCycle if the edge
// would close a cycle (the child is already an ancestor of the parent).
func (g *DepGraph) AddRequirement(child string, parent *string) error {
	childNode := g.nodeFor(child)
	if len(childNode.children) == 0 {
		g.childless[child] = struct{}{}
	}

	if parent == nil {
		return nil
	}

	parentNode, ok := g.nodes[*parent]
	if !ok {
		return aerr.Newf(aerr.KindInternal, "parent package %q has no node in the graph", *parent)
	}

	if parentNode.isAncestor(child) {
		return aerr.Newf(aerr.KindCycle,
			"foreign package dependency cycle detected involving %q and %q", child, *parent)
	}

	parentNode.children[child] = childNode
	childNode.parents[*parent] = parentNode

	delete(g.childless, *parent)

	return nil
}

// DrainOuter removes every currently-childless node from the graph. For
// each removed node, every former parent receives the node's full
// transitive foreign dependency set plus the node's own name, and loses
// the edge to it; any parent left with no remaining children becomes
// childless for the next drain. Repeated draining yields a deps-first
// build order.
func (g *DepGraph) DrainOuter() []*ForeignPackage {
	names := maps.Keys(g.childless)
	sort.Strings(names)

	newChildless := make(map[string]struct{})
	result := make([]*ForeignPackage, 0, len(names))

	for _, name := range names {
		node := g.nodes[name]

		for parentName, parent := range node.parents {
			deps := node.pkg.AllRecursiveForeignDepPkgs()
			deps[node.pkg.Name] = struct{}{}
			parent.pkg.AddForeignDependencyPackages(deps)

			delete(parent.children, name)

			if len(parent.children) == 0 {
				newChildless[parentName] = struct{}{}
			}
		}

		delete(g.nodes, name)

		result = append(result, node.pkg)
	}

	g.childless = newChildless

	return result
}
