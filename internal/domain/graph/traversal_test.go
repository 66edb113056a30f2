package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loom-backend/internal/domain/node"
	"loom-backend/internal/domain/shared"
	"loom-backend/internal/repository/memory"
)

func seedChain(t *testing.T) (*memory.NodeRepository, *node.Node, *node.Node, *node.Node) {
	t.Helper()
	repo := memory.NewNodeRepository()

	root := node.NewRoot("Root")
	require.NoError(t, repo.Upsert(root))

	mid, err := node.NewChild(root, "Mid", node.TypeTopic)
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(mid))

	leaf, err := node.NewChild(mid, "Leaf", node.TypeExploration)
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(leaf))

	return repo, root, mid, leaf
}

func TestParentChain(t *testing.T) {
	repo, root, mid, leaf := seedChain(t)

	chain, err := ParentChain(repo, leaf.ID())
	require.NoError(t, err)

	require.Len(t, chain, 3)
	assert.True(t, chain[0].ID().Equals(root.ID()))
	assert.True(t, chain[1].ID().Equals(mid.ID()))
	assert.True(t, chain[2].ID().Equals(leaf.ID()))
}

func TestParentChain_RootIsItself(t *testing.T) {
	repo, root, _, _ := seedChain(t)

	chain, err := ParentChain(repo, root.ID())
	require.NoError(t, err)
	require.Len(t, chain, 1)
}

func TestParentChain_MissingNode(t *testing.T) {
	repo, _, _, _ := seedChain(t)

	_, err := ParentChain(repo, shared.NewNodeID())
	assert.Error(t, err)
}

func TestAncestorSet_Simple(t *testing.T) {
	repo, root, mid, leaf := seedChain(t)

	set, err := AncestorSet(repo, leaf.ID())
	require.NoError(t, err)

	assert.Len(t, set, 3)
	assert.True(t, set[root.ID().String()])
	assert.True(t, set[mid.ID().String()])
	assert.True(t, set[leaf.ID().String()])
}

func TestAncestorSet_MergeIsTransitive(t *testing.T) {
	repo, root, mid, leaf := seedChain(t)

	other, err := node.NewChild(root, "Other", node.TypeTopic)
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(other))

	merged, err := node.NewMerge([]*node.Node{leaf, other}, "Merge", node.TypeSummary)
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(merged))

	set, err := AncestorSet(repo, merged.ID())
	require.NoError(t, err)

	// merged + leaf chain (root, mid, leaf) + other
	assert.Len(t, set, 5)
	assert.True(t, set[mid.ID().String()])
	assert.True(t, set[other.ID().String()])
}

func TestOrderedAncestors_RootFirst(t *testing.T) {
	repo, root, mid, leaf := seedChain(t)

	ordered, err := OrderedAncestors(repo, leaf.ID())
	require.NoError(t, err)

	require.Len(t, ordered, 3)
	assert.True(t, ordered[0].ID().Equals(root.ID()))
	assert.True(t, ordered[1].ID().Equals(mid.ID()))
	assert.True(t, ordered[2].ID().Equals(leaf.ID()))
}

func TestOrderedAncestors_MergeDeduplicates(t *testing.T) {
	repo, root, _, leaf := seedChain(t)

	other, err := node.NewChild(root, "Other", node.TypeTopic)
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(other))

	merged, err := node.NewMerge([]*node.Node{leaf, other}, "Merge", node.TypeSummary)
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(merged))

	ordered, err := OrderedAncestors(repo, merged.ID())
	require.NoError(t, err)

	// Root appears once even though both sources descend from it, and the
	// merge node itself comes last.
	require.Len(t, ordered, 5)
	assert.True(t, ordered[0].ID().Equals(root.ID()))
	assert.True(t, ordered[len(ordered)-1].ID().Equals(merged.ID()))

	seen := make(map[string]int)
	for _, n := range ordered {
		seen[n.ID().String()]++
	}
	for id, count := range seen {
		assert.Equal(t, 1, count, "node %s appears %d times", id, count)
	}
}

func TestDescendants_BFSClosure(t *testing.T) {
	repo, root, mid, leaf := seedChain(t)

	// A merge hanging off the leaf is part of the closure too.
	other, err := node.NewChild(root, "Other", node.TypeTopic)
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(other))

	merged, err := node.NewMerge([]*node.Node{leaf, other}, "Merge", node.TypeSummary)
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(merged))

	closure := Descendants(repo, []shared.NodeID{mid.ID()})

	ids := make(map[string]bool)
	for _, id := range closure {
		ids[id.String()] = true
	}
	assert.Len(t, closure, 2)
	assert.True(t, ids[leaf.ID().String()])
	assert.True(t, ids[merged.ID().String()])
	assert.False(t, ids[other.ID().String()])
}

func TestDescendants_NoChildren(t *testing.T) {
	repo, _, _, leaf := seedChain(t)
	assert.Empty(t, Descendants(repo, []shared.NodeID{leaf.ID()}))
}

func TestValidateGraph(t *testing.T) {
	repo, _, _, leaf := seedChain(t)
	svc := NewValidationService()

	require.NoError(t, svc.ValidateGraph(repo))

	// A merge keeps the invariants intact.
	other, err := node.NewChild(leaf, "Other", node.TypeTopic)
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(other))
	merged, err := node.NewMerge([]*node.Node{leaf, other}, "Merge", node.TypeSummary)
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(merged))

	require.NoError(t, svc.ValidateGraph(repo))
	assert.Equal(t, other.Depth()+1, merged.Depth())
}

func TestValidateReferences_Dangling(t *testing.T) {
	repo, _, _, _ := seedChain(t)
	svc := NewValidationService()

	kind, err := node.ChildKind(shared.NewNodeID())
	require.NoError(t, err)

	assert.Error(t, svc.ValidateReferences(repo, kind))
}

func TestValidateExisting(t *testing.T) {
	repo, root, _, _ := seedChain(t)
	svc := NewValidationService()

	assert.NoError(t, svc.ValidateExisting(repo, []shared.NodeID{root.ID()}))
	assert.Error(t, svc.ValidateExisting(repo, []shared.NodeID{root.ID(), shared.NewNodeID()}))
}
