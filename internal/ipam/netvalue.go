package ipam

import (
	"fmt"
	"net/netip"

	"nsot/internal/models"

	"go4.org/netipx"
)

// Адреса храним фиксированными 16 байтами big-endian: v4 дополняется нулями
// слева до 16. Лексикографическое сравнение байтов == числовой порядок
// адресов, так что containment — это network <= X AND broadcast >= X.
const valueLen = 16

func encodeAddr(a netip.Addr) []byte {
	a = a.Unmap()
	buf := make([]byte, valueLen)
	if a.Is4() {
		b := a.As4()
		copy(buf[valueLen-4:], b[:])
		return buf
	}
	b := a.As16()
	copy(buf, b[:])
	return buf
}

func decodeAddr(v []byte, version int) (netip.Addr, error) {
	if len(v) != valueLen {
		return netip.Addr{}, fmt.Errorf("%w: stored address value has %d bytes", ErrInvalidInput, len(v))
	}
	if version == 4 {
		var b [4]byte
		copy(b[:], v[valueLen-4:])
		return netip.AddrFrom4(b), nil
	}
	var b [16]byte
	copy(b[:], v)
	return netip.AddrFrom16(b), nil
}

func versionOf(a netip.Addr) int {
	if a.Unmap().Is4() {
		return 4
	}
	return 6
}

// netFields — разобранный CIDR в том виде, в каком он ложится в колонки.
type netFields struct {
	network   []byte
	broadcast []byte
	length    int
	version   int
}

// splitPrefix разбирает CIDR-строку в поля модели. Host-биты маскируются.
// broadcast — последний адрес блока: RangeOfPrefix корректно отдаёт второй
// адрес для /31 и /127 и сам адрес для /32 и /128.
func splitPrefix(s string) (netip.Prefix, netFields, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, netFields{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	p = netip.PrefixFrom(p.Addr().Unmap(), p.Bits()).Masked()
	last := netipx.RangeOfPrefix(p).To()
	return p, netFields{
		network:   encodeAddr(p.Addr()),
		broadcast: encodeAddr(last),
		length:    p.Bits(),
		version:   versionOf(p.Addr()),
	}, nil
}

type hostFields struct {
	host    []byte
	mask    int
	version int
}

// splitAddress разбирает "10.0.0.1/24" или голый адрес (маска = полной).
// Host-биты НЕ маскируются — это адрес хоста, а не сеть.
func splitAddress(s string) (netip.Addr, hostFields, error) {
	var a netip.Addr
	var mask int
	if p, err := netip.ParsePrefix(s); err == nil {
		a = p.Addr().Unmap()
		mask = p.Bits()
	} else {
		a, err = netip.ParseAddr(s)
		if err != nil {
			return netip.Addr{}, hostFields{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		a = a.Unmap()
		mask = a.BitLen()
	}
	return a, hostFields{host: encodeAddr(a), mask: mask, version: versionOf(a)}, nil
}

func fieldsOf(p *models.Prefix) netFields {
	return netFields{network: p.Network, broadcast: p.Broadcast, length: p.PrefixLength, version: p.IPVersion}
}

// prefixValue восстанавливает netip.Prefix из колонок модели.
func prefixValue(p *models.Prefix) (netip.Prefix, error) {
	a, err := decodeAddr(p.Network, p.IPVersion)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(a, p.PrefixLength), nil
}

// PrefixString — каноничная CIDR-строка префикса ("10.0.0.0/8").
func PrefixString(p *models.Prefix) string {
	v, err := prefixValue(p)
	if err != nil {
		return ""
	}
	return v.String()
}

// AddressString — адрес с маской ("10.0.0.1/24").
func AddressString(ip *models.IPAddress) string {
	a, err := decodeAddr(ip.Host, ip.IPVersion)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%s/%d", a, ip.MaskLength)
}

// HostString — голый адрес без маски.
func HostString(ip *models.IPAddress) string {
	a, err := decodeAddr(ip.Host, ip.IPVersion)
	if err != nil {
		return ""
	}
	return a.String()
}
