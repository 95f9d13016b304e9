package ipam

import (
	"testing"

	"nsot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultNamespaceGetOrCreate(t *testing.T) {
	r := newTestRepo(t)
	a, err := r.DefaultNamespace()
	require.NoError(t, err)
	assert.Equal(t, DefaultNamespaceName, a.Name)

	b, err := r.DefaultNamespace()
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID, "second call must return the same row")
}

func TestNamespaceDuplicateName(t *testing.T) {
	r := newTestRepo(t)
	mustNamespace(t, r, "prod")
	_, err := r.CreateNamespace("prod", "", "")
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestNamespaceIPAddressesView(t *testing.T) {
	r := newTestRepo(t)
	ns := mustNamespace(t, r, "prod")
	mustPrefix(t, r, "10.0.0.0/16", ns.ID, "")
	mustPrefix(t, r, "10.0.1.0/24", ns.ID, "")
	mustIP(t, r, "10.0.1.5/24", ns.ID)
	mustIP(t, r, "10.0.200.5/16", ns.ID)

	// чужой namespace не просачивается
	mustPrefix(t, r, "10.0.0.0/16", 0, "")
	mustIP(t, r, "10.0.0.77/16", 0)

	ips, err := r.NamespaceIPAddresses(ns.ID)
	require.NoError(t, err)
	require.Len(t, ips, 2)
}

func TestNamespaceMoveBulk(t *testing.T) {
	r := newTestRepo(t)
	dst := mustNamespace(t, r, "dc2")
	root := mustPrefix(t, r, "10.0.0.0/8", 0, models.PrefixTypeContainer)
	mid := mustPrefix(t, r, "10.1.0.0/16", 0, "")
	leaf := mustPrefix(t, r, "10.1.1.0/24", 0, "")
	ip := mustIP(t, r, "10.1.1.5/24", 0)

	// в dc2 пусто — перенос /8 уводит всё поддерево bulk-апдейтом
	_, err := r.UpdatePrefix(root.ID, PrefixUpdate{NamespaceID: &dst.ID})
	require.NoError(t, err)

	for _, id := range []uint{root.ID, mid.ID, leaf.ID} {
		assert.Equal(t, dst.ID, reloadPrefix(t, r, id).NamespaceID)
	}
	// указатели дерева не тронуты
	assert.Equal(t, mid.ID, parentID(reloadPrefix(t, r, leaf.ID)))
	assert.Equal(t, leaf.ID, *reloadIP(t, r, ip.ID).ParentID)

	ips, err := r.NamespaceIPAddresses(dst.ID)
	require.NoError(t, err)
	assert.Len(t, ips, 1)
}

func TestNamespaceMoveMerge(t *testing.T) {
	r := newTestRepo(t)
	dst := mustNamespace(t, r, "merged")

	// в целевом namespace уже есть пересекающийся контейнер
	dstRoot := mustPrefix(t, r, "10.0.0.0/8", dst.ID, models.PrefixTypeContainer)

	src := mustPrefix(t, r, "10.1.0.0/16", 0, "")
	leaf := mustPrefix(t, r, "10.1.1.0/24", 0, "")
	require.Equal(t, src.ID, parentID(leaf))

	moved, err := r.UpdatePrefix(src.ID, PrefixUpdate{NamespaceID: &dst.ID})
	require.NoError(t, err)

	// merge: перенесённый /16 подвешивается под существующий /8
	assert.Equal(t, dst.ID, moved.NamespaceID)
	assert.Equal(t, dstRoot.ID, parentID(moved))
	got := reloadPrefix(t, r, leaf.ID)
	assert.Equal(t, dst.ID, got.NamespaceID)
	assert.Equal(t, src.ID, parentID(got), "descendant keeps its closest parent after merge")
}

func TestNamespaceMoveMergeDuplicateRejected(t *testing.T) {
	r := newTestRepo(t)
	dst := mustNamespace(t, r, "dup")
	mustPrefix(t, r, "10.0.0.0/8", dst.ID, models.PrefixTypeContainer)
	mustPrefix(t, r, "10.1.1.0/24", dst.ID, "")

	src := mustPrefix(t, r, "10.1.0.0/16", 0, "")
	mustPrefix(t, r, "10.1.1.0/24", 0, "")

	_, err := r.UpdatePrefix(src.ID, PrefixUpdate{NamespaceID: &dst.ID})
	assert.ErrorIs(t, err, ErrDuplicate)
	// транзакция откатилась целиком
	assert.Equal(t, uint(0), func() uint {
		ps, _ := r.ListPrefixes(dst.ID)
		for _, p := range ps {
			if PrefixString(&p) == "10.1.0.0/16" {
				return p.ID
			}
		}
		return 0
	}(), "source /16 must not appear in destination")
}

func TestNamespaceMoveVRFGuard(t *testing.T) {
	r := newTestRepo(t)
	dst := mustNamespace(t, r, "dc3")
	root := mustPrefix(t, r, "10.0.0.0/8", 0, models.PrefixTypeContainer)
	leaf := mustPrefix(t, r, "10.1.0.0/16", 0, "")

	vrf, err := r.CreateVRF("blue", "65000:1", 0)
	require.NoError(t, err)
	_, err = r.AssignVRF(vrf.ID, leaf.ID)
	require.NoError(t, err)

	// VRF висит на потомке — перенос корня запрещён
	_, err = r.UpdatePrefix(root.ID, PrefixUpdate{NamespaceID: &dst.ID})
	assert.ErrorIs(t, err, ErrVRFAttached)
	assert.Equal(t, root.NamespaceID, reloadPrefix(t, r, root.ID).NamespaceID)

	// сняли ассоциацию — перенос проходит
	require.NoError(t, r.UnassignVRF(vrf.ID, leaf.ID))
	_, err = r.UpdatePrefix(root.ID, PrefixUpdate{NamespaceID: &dst.ID})
	assert.NoError(t, err)
}

func TestVRFAssignmentScopedToNamespace(t *testing.T) {
	r := newTestRepo(t)
	ns := mustNamespace(t, r, "other")
	p := mustPrefix(t, r, "10.0.0.0/16", ns.ID, "")

	vrf, err := r.CreateVRF("red", "65000:2", 0) // default namespace
	require.NoError(t, err)
	_, err = r.AssignVRF(vrf.ID, p.ID)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
