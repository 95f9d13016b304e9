package ipam

import (
	"math/big"
	"net/netip"

	"nsot/internal/models"

	"go4.org/netipx"
)

const defaultAvailableIPLimit = 50

// AvailablePrefixes — адресное пространство префикса минус объединение
// диапазонов прямых детей, как набор CIDR-блоков.
func (r *Repo) AvailablePrefixes(id uint) ([]netip.Prefix, error) {
	p, err := r.GetPrefix(id)
	if err != nil {
		return nil, err
	}
	self, err := prefixValue(p)
	if err != nil {
		return nil, err
	}

	var b netipx.IPSetBuilder
	b.AddPrefix(self)

	children, err := r.Subnets(p, QueryOpts{Direct: true})
	if err != nil {
		return nil, err
	}
	for i := range children {
		cv, err := prefixValue(&children[i])
		if err != nil {
			return nil, err
		}
		b.RemovePrefix(cv)
	}

	set, err := b.IPSet()
	if err != nil {
		return nil, err
	}
	return set.Prefixes(), nil
}

// AvailableIPs — свободные хосты внутри префикса, не больше limit штук.
// У IPv4 network-префиксов длиной <= /30 первый и последний адрес блока
// зарезервированы; pool и point-to-point (/31) отдают весь диапазон.
func (r *Repo) AvailableIPs(id uint, limit int) ([]netip.Addr, error) {
	if limit <= 0 {
		limit = defaultAvailableIPLimit
	}
	p, err := r.GetPrefix(id)
	if err != nil {
		return nil, err
	}
	self, err := prefixValue(p)
	if err != nil {
		return nil, err
	}

	var b netipx.IPSetBuilder
	b.AddPrefix(self)

	if reservesEdges(p) {
		rng := netipx.RangeOfPrefix(self)
		b.Remove(rng.From())
		b.Remove(rng.To())
	}

	// заняты все хосты namespace, попавшие в диапазон, на любой глубине
	sub := r.db.Model(&models.Prefix{}).Select("id").Where("namespace_id = ?", p.NamespaceID)
	var taken []models.IPAddress
	err = r.db.
		Where("ip_version = ? AND host >= ? AND host <= ?", p.IPVersion, p.Network, p.Broadcast).
		Where("parent_id IN (?)", sub).
		Find(&taken).Error
	if err != nil {
		return nil, err
	}
	for i := range taken {
		a, err := decodeAddr(taken[i].Host, taken[i].IPVersion)
		if err != nil {
			return nil, err
		}
		b.Remove(a)
	}

	set, err := b.IPSet()
	if err != nil {
		return nil, err
	}

	out := make([]netip.Addr, 0, limit)
	for _, rng := range set.Ranges() {
		for a := rng.From(); ; a = a.Next() {
			out = append(out, a)
			if len(out) == limit || a == rng.To() {
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// reservesEdges: network/broadcast адреса исключаются из выдачи только у
// "обычных" IPv4-сетей; /31 и /32 — вырожденные, там оба/единственный
// адрес валидны.
func reservesEdges(p *models.Prefix) bool {
	return p.IPVersion == 4 && p.Type == models.PrefixTypeNetwork && p.PrefixLength <= 30
}

// UtilizationData — числитель/знаменатель в big.Int: размер v6-блока в
// uint64 не влезает.
type UtilizationData struct {
	Numerator   *big.Int
	Denominator *big.Int
}

func (u UtilizationData) Percent() float64 {
	if u.Denominator == nil || u.Denominator.Sign() == 0 {
		return 0
	}
	rat := new(big.Rat).SetFrac(u.Numerator, u.Denominator)
	f, _ := rat.Float64()
	return f * 100
}

// Utilization — доля занятого пространства. Контейнеры считаются по
// суммарному размеру прямых детей-префиксов, остальные — по числу
// назначенных адресов в диапазоне.
func (r *Repo) Utilization(id uint) (UtilizationData, error) {
	p, err := r.GetPrefix(id)
	if err != nil {
		return UtilizationData{}, err
	}

	bits := 32
	if p.IPVersion == 6 {
		bits = 128
	}
	denom := new(big.Int).Lsh(big.NewInt(1), uint(bits-p.PrefixLength))
	if reservesEdges(p) {
		denom.Sub(denom, big.NewInt(2))
	}

	num := new(big.Int)
	if p.Type == models.PrefixTypeContainer {
		children, err := r.Subnets(p, QueryOpts{Direct: true})
		if err != nil {
			return UtilizationData{}, err
		}
		for i := range children {
			num.Add(num, new(big.Int).Lsh(big.NewInt(1), uint(bits-children[i].PrefixLength)))
		}
	} else {
		sub := r.db.Model(&models.Prefix{}).Select("id").Where("namespace_id = ?", p.NamespaceID)
		var n int64
		err := r.db.Model(&models.IPAddress{}).
			Where("ip_version = ? AND host >= ? AND host <= ?", p.IPVersion, p.Network, p.Broadcast).
			Where("parent_id IN (?)", sub).
			Count(&n).Error
		if err != nil {
			return UtilizationData{}, err
		}
		num.SetInt64(n)
	}
	return UtilizationData{Numerator: num, Denominator: denom}, nil
}
