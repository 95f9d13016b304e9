package ipam

import (
	"math/big"
	"net/netip"
	"testing"

	"nsot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prefixStrings(ps []netip.Prefix) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.String())
	}
	return out
}

func addrStrings(as []netip.Addr) []string {
	out := make([]string, 0, len(as))
	for _, a := range as {
		out = append(out, a.String())
	}
	return out
}

func TestAvailablePrefixes(t *testing.T) {
	r := newTestRepo(t)
	root := mustPrefix(t, r, "10.0.0.0/16", 0, models.PrefixTypeContainer)
	mustPrefix(t, r, "10.0.0.0/24", 0, "")
	mustPrefix(t, r, "10.0.64.0/18", 0, "")

	free, err := r.AvailablePrefixes(root.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"10.0.1.0/24", "10.0.2.0/23", "10.0.4.0/22", "10.0.8.0/21",
		"10.0.16.0/20", "10.0.32.0/19", "10.0.128.0/17",
	}, prefixStrings(free))
}

func TestAvailablePrefixesFullWhenNoChildren(t *testing.T) {
	r := newTestRepo(t)
	p := mustPrefix(t, r, "10.0.0.0/24", 0, "")
	free, err := r.AvailablePrefixes(p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/24"}, prefixStrings(free))
}

func TestAvailableIPsReservesEdges(t *testing.T) {
	r := newTestRepo(t)
	p := mustPrefix(t, r, "10.0.0.0/29", 0, "") // network type
	mustIP(t, r, "10.0.0.2/29", 0)

	free, err := r.AvailableIPs(p.ID, 0)
	require.NoError(t, err)
	// .0 (network), .7 (broadcast) и занятый .2 исключены
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.3", "10.0.0.4", "10.0.0.5", "10.0.0.6"}, addrStrings(free))
}

func TestAvailableIPsPointToPoint(t *testing.T) {
	r := newTestRepo(t)
	p := mustPrefix(t, r, "10.3.3.0/31", 0, "")

	// scenario 6: /31 хранит второй адрес в broadcast и оба адреса доступны
	got := reloadPrefix(t, r, p.ID)
	net4, err := decodeAddr(got.Network, 4)
	require.NoError(t, err)
	bc4, err := decodeAddr(got.Broadcast, 4)
	require.NoError(t, err)
	assert.Equal(t, "10.3.3.0", net4.String())
	assert.Equal(t, "10.3.3.1", bc4.String())

	free, err := r.AvailableIPs(p.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.3.3.0", "10.3.3.1"}, addrStrings(free))
}

func TestAvailableIPsPoolExposesEverything(t *testing.T) {
	r := newTestRepo(t)
	p := mustPrefix(t, r, "10.0.0.0/29", 0, models.PrefixTypePool)
	free, err := r.AvailableIPs(p.ID, 0)
	require.NoError(t, err)
	assert.Len(t, free, 8, "pool type keeps first/last usable")
	assert.Equal(t, "10.0.0.0", free[0].String())
	assert.Equal(t, "10.0.0.7", free[7].String())
}

func TestAvailableIPsLimit(t *testing.T) {
	r := newTestRepo(t)
	p := mustPrefix(t, r, "10.0.0.0/24", 0, "")
	free, err := r.AvailableIPs(p.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, addrStrings(free))
}

func TestAvailableIPsCountsDeeperAssignments(t *testing.T) {
	r := newTestRepo(t)
	root := mustPrefix(t, r, "10.0.0.0/28", 0, models.PrefixTypePool)
	mustPrefix(t, r, "10.0.0.0/30", 0, models.PrefixTypePool)
	mustIP(t, r, "10.0.0.1/30", 0) // висит на /30, но занят и для /28

	free, err := r.AvailableIPs(root.ID, 0)
	require.NoError(t, err)
	assert.NotContains(t, addrStrings(free), "10.0.0.1")
	assert.Len(t, free, 15)
}

func TestUtilizationNetwork(t *testing.T) {
	r := newTestRepo(t)
	p := mustPrefix(t, r, "10.0.0.0/24", 0, "")
	mustIP(t, r, "10.0.0.10/24", 0)
	mustIP(t, r, "10.0.0.11/24", 0)

	u, err := r.Utilization(p.ID)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(2), u.Numerator)
	assert.Equal(t, big.NewInt(254), u.Denominator, "network type excludes first/last")
	assert.InDelta(t, 100*2.0/254.0, u.Percent(), 0.0001)
}

func TestUtilizationContainer(t *testing.T) {
	r := newTestRepo(t)
	p := mustPrefix(t, r, "10.0.0.0/16", 0, models.PrefixTypeContainer)
	mustPrefix(t, r, "10.0.0.0/24", 0, "")
	mustPrefix(t, r, "10.0.1.0/24", 0, "")

	u, err := r.Utilization(p.ID)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(512), u.Numerator, "container counts child prefix space")
	assert.Equal(t, big.NewInt(65536), u.Denominator)
}

func TestUtilizationV6DoesNotOverflow(t *testing.T) {
	r := newTestRepo(t)
	p := mustPrefix(t, r, "2001:db8::/32", 0, models.PrefixTypeContainer)
	mustPrefix(t, r, "2001:db8::/48", 0, "")

	u, err := r.Utilization(p.ID)
	require.NoError(t, err)
	want := new(big.Int).Lsh(big.NewInt(1), 96)
	assert.Equal(t, want, u.Denominator)
	assert.Equal(t, new(big.Int).Lsh(big.NewInt(1), 80), u.Numerator)
}

func TestUtilizationPool(t *testing.T) {
	r := newTestRepo(t)
	p := mustPrefix(t, r, "10.0.0.0/30", 0, models.PrefixTypePool)
	mustIP(t, r, "10.0.0.0/30", 0)

	u, err := r.Utilization(p.ID)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1), u.Numerator)
	assert.Equal(t, big.NewInt(4), u.Denominator, "pool keeps full block size")
}
