package ipam

import (
	"testing"

	"nsot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPAddressGetsMostSpecificParent(t *testing.T) {
	r := newTestRepo(t)
	mustPrefix(t, r, "10.0.0.0/8", 0, models.PrefixTypeContainer)
	mustPrefix(t, r, "10.1.0.0/16", 0, "")
	leaf := mustPrefix(t, r, "10.1.1.0/24", 0, "")

	ip := mustIP(t, r, "10.1.1.5/24", 0)
	require.NotNil(t, ip.ParentID)
	assert.Equal(t, leaf.ID, *ip.ParentID)
	assert.Equal(t, "10.1.1.5/24", AddressString(ip))
	assert.Equal(t, 4, ip.IPVersion)
}

func TestIPAddressNoCoveringPrefix(t *testing.T) {
	r := newTestRepo(t)
	mustPrefix(t, r, "10.0.0.0/8", 0, "")

	_, err := r.CreateIPAddress(IPAddressInput{Address: "192.168.1.1/24"})
	require.ErrorIs(t, err, ErrNoCoveringPrefix)
	assert.Contains(t, err.Error(), "192.168.1.1")
	assert.Contains(t, err.Error(), "Global")
}

func TestIPAddressExplicitParentMustAgree(t *testing.T) {
	r := newTestRepo(t)
	coarse := mustPrefix(t, r, "10.0.0.0/8", 0, models.PrefixTypeContainer)
	fine := mustPrefix(t, r, "10.1.1.0/24", 0, "")

	// явный родитель совпал с вычисленным — ок
	ip, err := r.CreateIPAddress(IPAddressInput{Address: "10.1.1.7/24", ParentID: &fine.ID})
	require.NoError(t, err)
	assert.Equal(t, fine.ID, *ip.ParentID)

	// явный родитель грубее closest — отказ
	_, err = r.CreateIPAddress(IPAddressInput{Address: "10.1.1.8/24", ParentID: &coarse.ID})
	assert.ErrorIs(t, err, ErrContainment)
}

func TestIPAddressExplicitParentVersionMismatch(t *testing.T) {
	r := newTestRepo(t)
	p6 := mustPrefix(t, r, "2001:db8::/64", 0, "")
	_, err := r.CreateIPAddress(IPAddressInput{Address: "10.0.0.1/24", ParentID: &p6.ID})
	assert.ErrorIs(t, err, ErrVersionMismatch)
}

func TestIPAddressDuplicatePerParent(t *testing.T) {
	r := newTestRepo(t)
	mustPrefix(t, r, "10.0.0.0/24", 0, "")
	mustIP(t, r, "10.0.0.5/24", 0)

	_, err := r.CreateIPAddress(IPAddressInput{Address: "10.0.0.5/24"})
	assert.ErrorIs(t, err, ErrDuplicate)

	// тот же адрес в другом namespace живёт независимо
	ns := mustNamespace(t, r, "lab")
	mustPrefix(t, r, "10.0.0.0/24", ns.ID, "")
	_, err = r.CreateIPAddress(IPAddressInput{Address: "10.0.0.5/24", NamespaceID: ns.ID})
	assert.NoError(t, err)
}

func TestIPAddressHostImmutable(t *testing.T) {
	r := newTestRepo(t)
	mustPrefix(t, r, "10.0.0.0/24", 0, "")
	ip := mustIP(t, r, "10.0.0.5/24", 0)

	other := "10.0.0.6/24"
	_, err := r.UpdateIPAddress(ip.ID, IPAddressUpdate{Address: &other})
	assert.ErrorIs(t, err, ErrHostImmutable)

	// маску менять можно — host тот же
	narrower := "10.0.0.5/28"
	upd, err := r.UpdateIPAddress(ip.ID, IPAddressUpdate{Address: &narrower})
	require.NoError(t, err)
	assert.Equal(t, 28, upd.MaskLength)
	assert.Equal(t, "10.0.0.5", HostString(upd))
}

func TestIPAddressUpdateCannotCrossNamespaces(t *testing.T) {
	r := newTestRepo(t)
	home := mustPrefix(t, r, "10.0.0.0/24", 0, "")
	ip := mustIP(t, r, "10.0.0.5/24", 0)

	// в чужом namespace есть префикс, покрывающий тот же адрес
	other := mustNamespace(t, r, "other")
	foreign := mustPrefix(t, r, "10.0.0.0/16", other.ID, "")

	_, err := r.UpdateIPAddress(ip.ID, IPAddressUpdate{ParentID: &foreign.ID})
	assert.ErrorIs(t, err, ErrContainment, "namespace change goes through delete/recreate only")
	assert.Equal(t, home.ID, *reloadIP(t, r, ip.ID).ParentID, "parent must stay in the original namespace")
}

func TestIPAddressCreateConflictingNamespaceAndParent(t *testing.T) {
	r := newTestRepo(t)
	p := mustPrefix(t, r, "10.0.0.0/24", 0, "")
	ns := mustNamespace(t, r, "lab")
	mustPrefix(t, r, "10.0.0.0/24", ns.ID, "")

	// явный родитель из Global противоречит namespace_id=lab
	_, err := r.CreateIPAddress(IPAddressInput{Address: "10.0.0.5/24", NamespaceID: ns.ID, ParentID: &p.ID})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestIPAddressBareHostDefaultsFullMask(t *testing.T) {
	r := newTestRepo(t)
	mustPrefix(t, r, "10.0.0.0/24", 0, "")
	ip := mustIP(t, r, "10.0.0.9", 0)
	assert.Equal(t, 32, ip.MaskLength)
}

func TestIPAddressV6(t *testing.T) {
	r := newTestRepo(t)
	p := mustPrefix(t, r, "2001:db8:0:1::/64", 0, "")
	ip := mustIP(t, r, "2001:db8:0:1::10/64", 0)
	assert.Equal(t, p.ID, *ip.ParentID)
	assert.Equal(t, 6, ip.IPVersion)
}

func TestIPAddressDelete(t *testing.T) {
	r := newTestRepo(t)
	mustPrefix(t, r, "10.0.0.0/24", 0, "")
	ip := mustIP(t, r, "10.0.0.5/24", 0)
	require.NoError(t, r.DeleteIPAddress(ip.ID))
	_, err := r.GetIPAddress(ip.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// после hard delete адрес можно завести заново
	_, err = r.CreateIPAddress(IPAddressInput{Address: "10.0.0.5/24"})
	assert.NoError(t, err)
}
