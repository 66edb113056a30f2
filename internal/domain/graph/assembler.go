package graph

import (
	"fmt"
	"strings"

	"loom-backend/internal/domain/node"
	"loom-backend/internal/domain/shared"
	"loom-backend/internal/errors"
	"loom-backend/internal/repository"
)

// Assembler reconstructs the linear message sequence visible when a node
// becomes active. Assembly is a pure read: calling it twice on an unchanged
// repository yields identical output, including divider ids and timestamps,
// which are derived from node identity rather than the clock.
type Assembler struct {
	repo repository.NodeRepository
}

// NewAssembler creates a context assembler over the given store.
func NewAssembler(repo repository.NodeRepository) *Assembler {
	return &Assembler{repo: repo}
}

// Assemble produces the ordered message context for the given node.
func (a *Assembler) Assemble(id shared.NodeID) ([]node.Message, error) {
	target, ok := a.repo.Get(id)
	if !ok {
		return nil, notFound(id)
	}

	if target.Kind().IsMerge() {
		return a.assembleMerge(target)
	}
	return a.assembleChain(target)
}

// assembleChain concatenates the messages of the parent chain root-to-target,
// separating consecutive non-empty runs with a divider.
func (a *Assembler) assembleChain(target *node.Node) ([]node.Message, error) {
	chain, err := ParentChain(a.repo, target.ID())
	if err != nil {
		return nil, err
	}

	var out []node.Message
	emitted := 0
	for _, n := range chain {
		messages := n.Messages()
		if len(messages) == 0 {
			continue
		}
		if emitted > 0 {
			out = append(out, divider(n, "enter", nodeLabel(n)))
		}
		out = append(out, messages...)
		emitted++
	}
	return out, nil
}

// assembleMerge emits the common-ancestor prefix once, then each source's
// own messages in its own section, then the merge node's own messages.
func (a *Assembler) assembleMerge(target *node.Node) ([]node.Message, error) {
	sources := target.Kind().SourceIDs()

	// Intersect the per-source ancestor sets to find the shared prefix.
	common, err := AncestorSet(a.repo, sources[0])
	if err != nil {
		return nil, err
	}
	perSource := map[string]map[string]bool{sources[0].String(): common}
	for _, srcID := range sources[1:] {
		set, err := AncestorSet(a.repo, srcID)
		if err != nil {
			return nil, err
		}
		perSource[srcID.String()] = set
		for id := range common {
			if !set[id] {
				delete(common, id)
			}
		}
	}

	var out []node.Message

	// Shared prefix, in chain order, each node exactly once.
	ordered, err := OrderedAncestors(a.repo, sources[0])
	if err != nil {
		return nil, err
	}
	seenMessages := make(map[string]bool)
	for _, n := range ordered {
		if !common[n.ID().String()] {
			continue
		}
		for _, m := range n.Messages() {
			if seenMessages[m.ID.String()] {
				continue
			}
			seenMessages[m.ID.String()] = true
			out = append(out, m)
		}
	}

	// One divider naming every source, then a section per source that has
	// anything beyond the shared prefix. The naming divider already
	// separates the first section, so per-source dividers start with the
	// second emitted section.
	out = append(out, divider(target, "sources", a.sourceLabels(sources)))
	sections := 0
	for _, srcID := range sources {
		if contained(perSource[srcID.String()], common) {
			continue
		}
		src, ok := a.repo.Get(srcID)
		if !ok {
			return nil, notFound(srcID)
		}
		messages := src.Messages()
		if len(messages) == 0 {
			continue
		}
		if sections > 0 {
			out = append(out, divider(src, "branch", nodeLabel(src)))
		}
		out = append(out, messages...)
		sections++
	}

	if own := target.Messages(); len(own) > 0 {
		out = append(out, divider(target, "own", nodeLabel(target)))
		out = append(out, own...)
	}
	return out, nil
}

func (a *Assembler) sourceLabels(sources []shared.NodeID) string {
	labels := make([]string, 0, len(sources))
	for _, id := range sources {
		if n, ok := a.repo.Get(id); ok {
			labels = append(labels, nodeLabel(n))
		}
	}
	return strings.Join(labels, ", ")
}

// divider synthesizes the separator message shown between context sections.
// Its id and timestamp derive from the node so repeated assembly is
// byte-for-byte identical.
func divider(n *node.Node, section, label string) node.Message {
	id, _ := shared.ParseMessageID(fmt.Sprintf("divider:%s:%s", section, n.ID()))
	return node.Message{
		ID:        id,
		Content:   fmt.Sprintf("--- %s ---", label),
		Role:      node.RoleAssistant,
		BranchID:  n.ID(),
		Timestamp: n.CreatedAt(),
	}
}

func nodeLabel(n *node.Node) string {
	if n.Title() != "" {
		return n.Title()
	}
	return string(n.Type())
}

// contained reports whether set is fully contained in super.
func contained(set, super map[string]bool) bool {
	for id := range set {
		if !super[id] {
			return false
		}
	}
	return true
}

func notFound(id shared.NodeID) error {
	return errors.NewNotFoundError("node").WithResource(id.String())
}
